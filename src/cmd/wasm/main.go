//go:build js && wasm

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"syscall/js"

	"molecule-lab/src/internal/client"
)

// promise runs fn off the JS event loop and settles a Promise with its result.
func promise(fn func() (string, error)) js.Value {
	handler := js.FuncOf(func(this js.Value, args []js.Value) any {
		resolve := args[0]
		reject := args[1]

		go func() {
			res, err := fn()
			if err != nil {
				reject.Invoke(err.Error())
			} else {
				resolve.Invoke(res)
			}
		}()

		return nil
	})

	return js.Global().Get("Promise").New(handler)
}

func main() {
	c := make(chan struct{}, 0)

	js.Global().Set("molabGenerate", js.FuncOf(func(this js.Value, args []js.Value) any {
		if len(args) < 3 {
			return "Error: missing arguments (baseUrl, serverKey, query)"
		}
		cl := client.New(args[0].String(), args[1].String())
		query := args[2].String()

		return promise(func() (string, error) {
			rec, stats, err := cl.Generate(context.Background(), query)
			if err != nil {
				return "", err
			}
			out, err := json.Marshal(map[string]any{"record": rec, "stats": stats})
			return string(out), err
		})
	}))

	js.Global().Set("molabExport", js.FuncOf(func(this js.Value, args []js.Value) any {
		if len(args) < 3 {
			return "Error: missing arguments (baseUrl, serverKey, query)"
		}
		cl := client.New(args[0].String(), args[1].String())
		query := args[2].String()

		return promise(func() (string, error) {
			doc, err := cl.Export(context.Background(), nil, query)
			if err != nil {
				return "", err
			}
			return string(doc.Content), nil
		})
	}))

	js.Global().Set("molabGetConfig", js.FuncOf(func(this js.Value, args []js.Value) any {
		if len(args) < 3 {
			return "Error: missing arguments (baseUrl, adminUser, adminPass)"
		}
		cl := client.New(args[0].String(), "")
		cl.AdminUser = args[1].String()
		cl.AdminPass = args[2].String()

		return promise(func() (string, error) {
			return cl.GetConfig(context.Background())
		})
	}))

	fmt.Println("Molecule lab WASM SDK initialized")
	<-c
}
