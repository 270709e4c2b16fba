package jsvm

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strings"

	"github.com/dop251/goja"
	"github.com/spf13/afero"

	"github.com/michaelbrown/playground/internal/sandbox"
)

func (p *program) require(call goja.FunctionCall) goja.Value {
	name := strings.TrimPrefix(call.Argument(0).String(), "node:")
	switch name {
	case "fs":
		return p.fsModule()
	case "path":
		return p.pathModule()
	}
	panic(p.vm.NewGoError(fmt.Errorf("Cannot find module '%s'", name)))
}

// throw raises err inside the VM with a node-style errno prefix.
func (p *program) throw(op, name string, err error) {
	code := "EIO"
	switch {
	case errors.Is(err, fs.ErrNotExist):
		code = "ENOENT: no such file or directory"
	case errors.Is(err, fs.ErrExist):
		code = "EEXIST: file already exists"
	}
	panic(p.vm.NewGoError(fmt.Errorf("%s, %s '%s'", code, op, name)))
}

func (p *program) fsModule() goja.Value {
	vfs := p.handle.fs
	mod := p.vm.NewObject()

	mod.Set("readFileSync", func(call goja.FunctionCall) goja.Value {
		name := sandbox.CleanPath(call.Argument(0).String())
		data, err := afero.ReadFile(vfs, name)
		if err != nil {
			p.throw("open", name, err)
		}
		return p.vm.ToValue(string(data))
	})
	mod.Set("writeFileSync", func(call goja.FunctionCall) goja.Value {
		name := sandbox.CleanPath(call.Argument(0).String())
		if err := afero.WriteFile(vfs, name, []byte(call.Argument(1).String()), 0o644); err != nil {
			p.throw("open", name, err)
		}
		return goja.Undefined()
	})
	mod.Set("appendFileSync", func(call goja.FunctionCall) goja.Value {
		name := sandbox.CleanPath(call.Argument(0).String())
		f, err := vfs.OpenFile(name, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			p.throw("open", name, err)
		}
		defer f.Close()
		if _, err := f.WriteString(call.Argument(1).String()); err != nil {
			p.throw("write", name, err)
		}
		return goja.Undefined()
	})
	mod.Set("existsSync", func(call goja.FunctionCall) goja.Value {
		ok, _ := afero.Exists(vfs, sandbox.CleanPath(call.Argument(0).String()))
		return p.vm.ToValue(ok)
	})
	mod.Set("mkdirSync", func(call goja.FunctionCall) goja.Value {
		name := sandbox.CleanPath(call.Argument(0).String())
		if err := vfs.MkdirAll(name, 0o755); err != nil {
			p.throw("mkdir", name, err)
		}
		return goja.Undefined()
	})
	mod.Set("readdirSync", func(call goja.FunctionCall) goja.Value {
		name := sandbox.CleanPath(call.Argument(0).String())
		entries, err := afero.ReadDir(vfs, name)
		if err != nil {
			p.throw("scandir", name, err)
		}
		names := make([]any, len(entries))
		for i, e := range entries {
			names[i] = e.Name()
		}
		return p.vm.NewArray(names...)
	})
	mod.Set("unlinkSync", func(call goja.FunctionCall) goja.Value {
		name := sandbox.CleanPath(call.Argument(0).String())
		if err := vfs.Remove(name); err != nil {
			p.throw("unlink", name, err)
		}
		return goja.Undefined()
	})
	return mod
}

func (p *program) pathModule() goja.Value {
	mod := p.vm.NewObject()
	mod.Set("sep", "/")
	mod.Set("basename", func(s string) string { return path.Base(s) })
	mod.Set("dirname", func(s string) string { return path.Dir(s) })
	mod.Set("extname", func(s string) string { return path.Ext(s) })
	mod.Set("join", func(parts ...string) string { return path.Join(parts...) })
	mod.Set("resolve", func(parts ...string) string {
		resolved := "/"
		for _, part := range parts {
			if strings.HasPrefix(part, "/") {
				resolved = part
				continue
			}
			resolved = path.Join(resolved, part)
		}
		return sandbox.CleanPath(resolved)
	})
	return mod
}
