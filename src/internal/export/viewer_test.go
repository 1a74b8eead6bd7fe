package export

import (
	"encoding/json"
	"math"
	"regexp"
	"strconv"
	"testing"

	"molecule-lab/src/internal/elements"
	"molecule-lab/src/internal/geometry"
	"molecule-lab/src/internal/interaction"
	"molecule-lab/src/internal/molecule"
	"molecule-lab/src/internal/scene"

	"github.com/dop251/goja"
)

// domStub is just enough browser for the viewer script: element lookup,
// event listeners, a no-op 2D context and a manual animation frame queue.
const domStub = `
var listeners = {};
var frames = [];
var context2d = new Proxy({}, {
  get: function (t, k) {
    if (k in t) return t[k];
    return function () { return { addColorStop: function () {} }; };
  },
  set: function (t, k, v) { t[k] = v; return true; }
});
var nodes = {};
function element(id) {
  return {
    id: id, textContent: '', clientWidth: 640, clientHeight: 480, width: 0, height: 0,
    classList: { toggle: function () { return true; } },
    setAttribute: function () {},
    addEventListener: function (type, fn) { listeners[id + ':' + type] = fn; },
    getContext: function () { return context2d; }
  };
}
var document = {
  getElementById: function (id) {
    if (!nodes[id]) {
      nodes[id] = element(id);
      if (id === 'molecule-data') nodes[id].textContent = recordText;
      if (id === 'viewer-params') nodes[id].textContent = paramsText;
    }
    return nodes[id];
  }
};
var window = {
  addEventListener: function (type, fn) { listeners['window:' + type] = fn; },
  requestAnimationFrame: function (fn) { frames.push(fn); }
};
function dispatch(key, ev) { listeners[key](ev); }
function nextFrame() { frames.shift()(); }
`

var paramsBlockRe = regexp.MustCompile(`(?s)<script type="application/json" id="viewer-params">(.*?)</script>`)

type jsSphere struct {
	Center geometry.Vec3 `json:"center"`
	Radius float64       `json:"radius"`
	Color  string        `json:"color"`
}

type jsCylinder struct {
	Pose   geometry.Pose `json:"pose"`
	Radius float64       `json:"radius"`
	Color  string        `json:"color"`
}

type jsLabel struct {
	Text     string        `json:"text"`
	Position geometry.Vec3 `json:"position"`
	Scale    float64       `json:"scale"`
}

type jsScene struct {
	Spheres   []jsSphere   `json:"spheres"`
	Cylinders []jsCylinder `json:"cylinders"`
	Labels    []jsLabel    `json:"labels"`
}

type jsView struct {
	Yaw      float64 `json:"yaw"`
	Pitch    float64 `json:"pitch"`
	Distance float64 `json:"distance"`
	Dragging bool    `json:"dragging"`
}

type viewerHarness struct {
	t  *testing.T
	vm *goja.Runtime
}

// openViewer runs the script of doc the way a browser would on load.
func openViewer(t *testing.T, doc *Document) *viewerHarness {
	t.Helper()
	rec := recordBlockRe.FindSubmatch(doc.Content)
	params := paramsBlockRe.FindSubmatch(doc.Content)
	if rec == nil || params == nil {
		t.Fatal("document has no data blocks")
	}
	vm := goja.New()
	vm.SetFieldNameMapper(goja.TagFieldNameMapper("json", true))
	if err := vm.Set("recordText", string(rec[1])); err != nil {
		t.Fatal(err)
	}
	if err := vm.Set("paramsText", string(params[1])); err != nil {
		t.Fatal(err)
	}
	h := &viewerHarness{t: t, vm: vm}
	h.run(domStub)
	h.run(viewerScript)
	return h
}

func (h *viewerHarness) run(src string) goja.Value {
	h.t.Helper()
	v, err := h.vm.RunString(src)
	if err != nil {
		h.t.Fatalf("script error: %v", err)
	}
	return v
}

// decode evaluates expr and unmarshals its JSON form into out.
func (h *viewerHarness) decode(expr string, out any) {
	h.t.Helper()
	raw := h.run("JSON.stringify(" + expr + ")").String()
	if err := json.Unmarshal([]byte(raw), out); err != nil {
		h.t.Fatalf("decode %s: %v (%s)", expr, err, raw)
	}
}

func (h *viewerHarness) view() jsView {
	var v jsView
	h.decode("window.moleculeViewer.view()", &v)
	return v
}

const tolerance = 1e-12

func near(a, b float64) bool { return math.Abs(a-b) <= tolerance }

func nearVec(a, b geometry.Vec3) bool { return near(a.X, b.X) && near(a.Y, b.Y) && near(a.Z, b.Z) }

func nearPose(a, b geometry.Pose) bool {
	return near(a.Length, b.Length) && nearVec(a.Midpoint, b.Midpoint) &&
		near(a.Rotation.X, b.Rotation.X) && near(a.Rotation.Y, b.Rotation.Y) &&
		near(a.Rotation.Z, b.Rotation.Z) && near(a.Rotation.W, b.Rotation.W)
}

func messy() *molecule.Record {
	rec := water()
	rec.Atoms = append(rec.Atoms,
		molecule.Atom{ID: 3, Element: "H", X: 0, Y: 0, Z: 0},            // coincides with the oxygen
		molecule.Atom{ID: 4, Element: "C", X: math.NaN(), Y: 1, Z: 0},   // unusable
		molecule.Atom{ID: 5, Element: "N", X: 0, Y: -1.2, Z: 0},         // antiparallel to the cylinder axis
		molecule.Atom{ID: 6, Element: "Xx", X: 1, Y: 1, Z: math.Inf(1)}, // unusable, unknown element
		molecule.Atom{ID: 7, Element: "Xx", X: 0.3, Y: 0.4, Z: -0.9},    // never enriched
	)
	rec.Bonds = append(rec.Bonds,
		molecule.Bond{Source: 1, Target: 1},
		molecule.Bond{Source: 0, Target: 99},
		molecule.Bond{Source: -1, Target: 0},
		molecule.Bond{Source: 0, Target: 3},
		molecule.Bond{Source: 0, Target: 4},
		molecule.Bond{Source: 0, Target: 5},
		molecule.Bond{Source: 6, Target: 2},
		molecule.Bond{Source: 7, Target: 2},
	)
	return rec
}

func TestViewerScriptMatchesComposer(t *testing.T) {
	tests := []struct {
		name string
		rec  *molecule.Record
	}{
		{"water", water()},
		{"bad atoms and bonds", messy()},
		{"empty", &molecule.Record{Name: "Nothing"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := scene.NewParams(nil, interaction.DefaultSettings())
			doc, err := New(params).Synthesize(tt.rec)
			if err != nil {
				t.Fatal(err)
			}
			h := openViewer(t, doc)
			var got jsScene
			h.decode("window.moleculeViewer.scene()", &got)

			want := scene.NewComposer(elements.Default(), params.Interaction.InitialDistance).Compose(tt.rec)
			if len(got.Spheres) != len(want.Spheres) || len(got.Labels) != len(want.Labels) || len(got.Cylinders) != len(want.Cylinders) {
				t.Fatalf("script composed %d/%d/%d spheres/labels/cylinders, want %d/%d/%d",
					len(got.Spheres), len(got.Labels), len(got.Cylinders),
					len(want.Spheres), len(want.Labels), len(want.Cylinders))
			}
			for i, s := range want.Spheres {
				g := got.Spheres[i]
				if !nearVec(g.Center, s.Center) || g.Radius != s.Radius || g.Color != s.Color {
					t.Errorf("sphere %d = %+v, want %+v", i, g, s)
				}
			}
			for i, l := range want.Labels {
				g := got.Labels[i]
				if g.Text != l.Text || !nearVec(g.Position, l.Position) || !near(g.Scale, l.Scale) {
					t.Errorf("label %d = %+v, want %+v", i, g, l)
				}
			}
			for i, c := range want.Cylinders {
				g := got.Cylinders[i]
				if !nearPose(g.Pose, c.Pose) {
					t.Errorf("cylinder %d pose = %+v, want %+v", i, g.Pose, c.Pose)
				}
				if g.Radius != c.Radius || g.Color != c.Color {
					t.Errorf("cylinder %d style = %v %q, want %v %q", i, g.Radius, g.Color, c.Radius, c.Color)
				}

				var ends []geometry.Vec3
				h.decode("window.moleculeViewer.poseEnds(window.moleculeViewer.scene().cylinders["+strconv.Itoa(i)+"].pose)", &ends)
				a, b := c.Pose.Ends()
				if len(ends) != 2 || !nearVec(ends[0], a) || !nearVec(ends[1], b) {
					t.Errorf("cylinder %d ends = %v, want %v %v", i, ends, a, b)
				}
			}
		})
	}
}

func TestViewerScriptOrientMatchesGeometry(t *testing.T) {
	doc, err := Synthesize(water())
	if err != nil {
		t.Fatal(err)
	}
	h := openViewer(t, doc)

	tests := []struct {
		name       string
		start, end geometry.Vec3
	}{
		{"diagonal", geometry.V(0.1, 0.2, 0.3), geometry.V(-1, 2, 0.5)},
		{"along up", geometry.V(0, 0, 0), geometry.V(0, 2, 0)},
		{"antiparallel", geometry.V(0, 1, 0), geometry.V(0, -1, 0)},
		{"coincident", geometry.V(1, 1, 1), geometry.V(1, 1, 1)},
		{"below epsilon", geometry.V(1, 1, 1), geometry.V(1+1e-10, 1, 1)},
		{"nan", geometry.V(math.NaN(), 0, 0), geometry.V(1, 0, 0)},
		{"inf", geometry.V(0, 0, 0), geometry.V(math.Inf(-1), 0, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := h.vm.Set("start", tt.start); err != nil {
				t.Fatal(err)
			}
			if err := h.vm.Set("end", tt.end); err != nil {
				t.Fatal(err)
			}
			var got *geometry.Pose
			h.decode("window.moleculeViewer.orient(start, end)", &got)

			want, ok := geometry.Orient(tt.start, tt.end)
			if !ok {
				if got != nil {
					t.Errorf("script oriented a bond Go rejects: %+v", *got)
				}
				return
			}
			if got == nil || !nearPose(*got, want) {
				t.Errorf("orient = %+v, want %+v", got, want)
			}
		})
	}
}

func TestViewerScriptSkipsMalformedJSON(t *testing.T) {
	doc, err := Synthesize(water())
	if err != nil {
		t.Fatal(err)
	}
	h := openViewer(t, doc)

	// shapes Go records cannot carry but a hand-edited document can
	var got jsScene
	h.decode(`window.moleculeViewer.compose({
		atoms: [{element: 'O', x: 0, y: 0, z: 0}, {element: 'H', x: '1', y: 0, z: 0}, null, {element: 'H', x: 1, y: 0, z: 0}],
		bonds: [{source: 0.5, target: 3}, {source: '0', target: 3}, {source: 0, target: 1}, {source: 0, target: 2}, null, {source: 0, target: 3}]
	})`, &got)
	if len(got.Spheres) != 2 || len(got.Labels) != 2 {
		t.Errorf("spheres = %d, labels = %d, want 2 each", len(got.Spheres), len(got.Labels))
	}
	if len(got.Cylinders) != 1 {
		t.Fatalf("cylinders = %d, want 1", len(got.Cylinders))
	}
	want, _ := geometry.Orient(geometry.V(0, 0, 0), geometry.V(1, 0, 0))
	if !nearPose(got.Cylinders[0].Pose, want) {
		t.Errorf("pose = %+v, want %+v", got.Cylinders[0].Pose, want)
	}

	h.decode("window.moleculeViewer.compose({})", &got)
	if len(got.Spheres) != 0 || len(got.Cylinders) != 0 {
		t.Errorf("empty record composed %+v", got)
	}
}

func TestViewerScriptInteractionMatchesController(t *testing.T) {
	s := interaction.DefaultSettings()
	doc, err := New(scene.NewParams(nil, s)).Synthesize(water())
	if err != nil {
		t.Fatal(err)
	}
	h := openViewer(t, doc)
	c := interaction.NewController(s)
	c.Tick() // the script draws its first frame on load

	steps := []struct {
		name  string
		js    string
		apply func()
	}{
		{"move without drag", `dispatch('window:pointermove', {clientX: 50, clientY: 50})`, func() {}},
		{"press", `dispatch('viewer-canvas:pointerdown', {clientX: 100, clientY: 100})`, c.PointerDown},
		{"drag", `dispatch('window:pointermove', {clientX: 130, clientY: 90})`, func() { c.PointerMove(30, -10) }},
		{"drag again", `dispatch('window:pointermove', {clientX: 125, clientY: 140})`, func() { c.PointerMove(-5, 50) }},
		{"frame while dragging", `nextFrame()`, func() { c.Tick() }},
		{"release", `dispatch('window:pointerup', {})`, c.PointerUp},
		{"move after release", `dispatch('window:pointermove', {clientX: 400, clientY: 400})`, func() {}},
		{"idle frame", `nextFrame()`, func() { c.Tick() }},
		{"idle frame again", `nextFrame()`, func() { c.Tick() }},
		{"zoom out past max", `dispatch('viewer-canvas:wheel', {deltaY: 100000, preventDefault: function () {}})`, func() { c.Wheel(100000) }},
		{"zoom in past min", `dispatch('viewer-canvas:wheel', {deltaY: -100000, preventDefault: function () {}})`, func() { c.Wheel(-100000) }},
		{"zoom step", `dispatch('viewer-canvas:wheel', {deltaY: 300, preventDefault: function () {}})`, func() { c.Wheel(300) }},
		{"zoom nan", `dispatch('viewer-canvas:wheel', {deltaY: NaN, preventDefault: function () {}})`, func() { c.Wheel(math.NaN()) }},
		{"press for cancel", `dispatch('viewer-canvas:pointerdown', {clientX: 0, clientY: 0})`, c.PointerDown},
		{"wheel while dragging", `dispatch('viewer-canvas:wheel', {deltaY: -200, preventDefault: function () {}})`, func() { c.Wheel(-200) }},
		{"cancel", `dispatch('window:pointercancel', {})`, c.PointerUp},
		{"frame after cancel", `nextFrame()`, func() { c.Tick() }},
	}
	for _, st := range steps {
		h.run(st.js)
		st.apply()
		got, want := h.view(), c.View()
		if !near(got.Yaw, want.Yaw) || !near(got.Pitch, want.Pitch) || !near(got.Distance, want.Distance) || got.Dragging != c.Dragging() {
			t.Fatalf("after %s: script view %+v, controller %+v dragging=%v", st.name, got, want, c.Dragging())
		}
	}
	if v := c.View(); v.Distance == s.InitialDistance || v.Yaw == 0 || v.Pitch == 0 {
		t.Errorf("steps left the view unchanged: %+v", v)
	}
}
