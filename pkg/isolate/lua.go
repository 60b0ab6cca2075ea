package isolate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/Shopify/go-lua"
)

// LuaScript is a compiled, sandboxed Lua step body. The script sees the
// globals prev, store, and trigger, may call print, log.log, log.info,
// log.warn, log.debug, log.error, log.trace, and cancel(reason), and its
// return value becomes the step's output
type LuaScript struct {
	name     string
	bytecode []byte
}

const (
	luaCacheSize       = 1024
	luaGlobalTableName = "_G"
	luaChunkName       = "step"
)

var (
	ErrLuaCompile   = errors.New("lua compile error")
	ErrLuaExecution = errors.New("lua execution error")
)

var luaExclude = [...]string{
	"io", "os", "debug", "package", "require", "dofile", "loadfile", "load",
}

var luaScripts = newLuaCache(luaCacheSize)

// CompileLua compiles src once; identical sources share compiled bytecode
func CompileLua(src string) (*LuaScript, error) {
	return luaScripts.compile(src)
}

func compileLua(src, name string) (*LuaScript, error) {
	L := lua.NewState()
	sandbox(L)
	if err := lua.LoadString(L, src); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLuaCompile, err)
	}
	var buf bytes.Buffer
	if err := L.Dump(&buf); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLuaCompile, err)
	}
	return &LuaScript{name: name, bytecode: buf.Bytes()}, nil
}

// LuaUnit runs a compiled script in a fresh Lua state on its own goroutine
func LuaUnit(s *LuaScript) Factory {
	return GoUnit(LuaHandler(s))
}

// LuaHandler adapts a compiled script into a Handler. Every call gets a new
// Lua state, so nothing leaks between invocations
func LuaHandler(s *LuaScript) Handler {
	return func(c *Context) (any, error) {
		L := lua.NewState()
		sandbox(L)
		bindGlobals(L, c)

		err := L.Load(bytes.NewReader(s.bytecode), luaChunkName, "b")
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrLuaCompile, err)
		}
		if err := L.ProtectedCall(0, 1, 0); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrLuaExecution, err)
		}
		res := luaToGo(L, -1)
		L.Pop(1)
		return res, nil
	}
}

func sandbox(L *lua.State) {
	lua.OpenLibraries(L)
	L.Global(luaGlobalTableName)
	for _, name := range luaExclude {
		L.PushNil()
		L.SetField(-2, name)
	}
	L.Pop(1)
}

func bindGlobals(L *lua.State, c *Context) {
	goToLua(L, c.Prev)
	L.SetGlobal("prev")
	goToLua(L, map[string]any(c.Store))
	L.SetGlobal("store")
	goToLua(L, c.Trigger)
	L.SetGlobal("trigger")

	L.Register("print", luaConsole(c.Console.Log))
	L.Register("cancel", func(L *lua.State) int {
		reason, _ := L.ToString(1)
		c.Cancel(reason)
		return 0
	})

	L.NewTable()
	for name, fn := range map[string]func(...any){
		"log":   c.Console.Log,
		"info":  c.Console.Info,
		"warn":  c.Console.Warn,
		"debug": c.Console.Debug,
		"error": c.Console.Error,
		"trace": c.Console.Trace,
	} {
		L.PushGoFunction(luaConsole(fn))
		L.SetField(-2, name)
	}
	L.SetGlobal("log")
}

func luaConsole(write func(...any)) lua.Function {
	return func(L *lua.State) int {
		n := L.Top()
		args := make([]any, 0, n)
		for i := 1; i <= n; i++ {
			args = append(args, luaArgString(L, i))
		}
		write(args...)
		return 0
	}
}

func luaArgString(L *lua.State, index int) string {
	switch L.TypeOf(index) {
	case lua.TypeNil:
		return "nil"
	case lua.TypeBoolean:
		return strconv.FormatBool(L.ToBoolean(index))
	case lua.TypeNumber, lua.TypeString:
		s, _ := L.ToString(index)
		return s
	case lua.TypeTable:
		data, err := json.Marshal(luaToGo(L, index))
		if err != nil {
			return "table"
		}
		return string(data)
	default:
		return lua.TypeNameOf(L, index)
	}
}

func goToLua(L *lua.State, value any) {
	switch v := value.(type) {
	case nil:
		L.PushNil()
	case string:
		L.PushString(v)
	case bool:
		L.PushBoolean(v)
	case int:
		L.PushInteger(v)
	case int64:
		L.PushInteger(int(v))
	case float64:
		L.PushNumber(v)
	case json.Number:
		f, _ := v.Float64()
		L.PushNumber(f)
	case []any:
		L.CreateTable(len(v), 0)
		for i, item := range v {
			goToLua(L, item)
			L.RawSetInt(-2, i+1)
		}
	case map[string]any:
		L.CreateTable(0, len(v))
		for k, item := range v {
			goToLua(L, item)
			L.SetField(-2, k)
		}
	default:
		L.PushString(fmt.Sprintf("%v", v))
	}
}

func luaToGo(L *lua.State, index int) any {
	switch L.TypeOf(index) {
	case lua.TypeBoolean:
		return L.ToBoolean(index)
	case lua.TypeNumber:
		n, _ := L.ToNumber(index)
		if n == math.Trunc(n) && math.Abs(n) < 1<<53 {
			return int64(n)
		}
		return n
	case lua.TypeString:
		s, _ := L.ToString(index)
		return s
	case lua.TypeTable:
		return luaTableToGo(L, L.AbsIndex(index))
	default:
		return nil
	}
}

// luaTableToGo converts a table into a []any when its keys are exactly
// 1..n, and into a map[string]any otherwise. Empty tables become maps
func luaTableToGo(L *lua.State, index int) any {
	length := 0
	sequence := true
	L.PushNil()
	for L.Next(index) {
		if sequence && L.TypeOf(-2) == lua.TypeNumber {
			k, _ := L.ToNumber(-2)
			if k != math.Trunc(k) || k < 1 {
				sequence = false
			}
		} else {
			sequence = false
		}
		length++
		L.Pop(1)
	}

	if sequence && length > 0 && L.RawLength(index) == length {
		arr := make([]any, length)
		for i := 1; i <= length; i++ {
			L.RawGetInt(index, i)
			arr[i-1] = luaToGo(L, -1)
			L.Pop(1)
		}
		return arr
	}

	res := make(map[string]any, length)
	L.PushNil()
	for L.Next(index) {
		res[luaKeyString(L, -2)] = luaToGo(L, -1)
		L.Pop(1)
	}
	return res
}

func luaKeyString(L *lua.State, index int) string {
	if L.TypeOf(index) == lua.TypeString {
		s, _ := L.ToString(index)
		return s
	}
	// ToString would convert a numeric key in place and break Next
	return strings.TrimSpace(fmt.Sprint(luaToGo(L, index)))
}
