// ABOUTME: The bedrock.* Lua API surface exposed to harness scripts: kv_set/kv_get/kv_delete.
// ABOUTME: Supplemental feature beyond spec.md's hook contract, grounded on original_source's state store.

package harness

import (
	"context"
	"time"

	lua "github.com/yuin/gopher-lua"
)

// registerAPI installs the "bedrock" global table, giving scripts access
// to the harness key-value store without reaching into the Kernel.
func (h *Harness) registerAPI(state *lua.LState) {
	tbl := state.NewTable()
	state.SetFuncs(tbl, map[string]lua.LGFunction{
		"kv_set":    h.luaKVSet,
		"kv_get":    h.luaKVGet,
		"kv_delete": h.luaKVDelete,
	})
	state.SetGlobal("bedrock", tbl)
}

func (h *Harness) luaKVSet(L *lua.LState) int {
	key := L.CheckString(1)
	value := L.CheckString(2)

	var expiresAt *time.Time
	if ttl := L.OptNumber(3, 0); ttl > 0 {
		t := time.Now().Add(time.Duration(float64(ttl)) * time.Second)
		expiresAt = &t
	}

	if h.kv == nil {
		L.Push(lua.LBool(false))
		return 1
	}
	if err := h.kv.KVSet(context.Background(), key, value, expiresAt); err != nil {
		L.Push(lua.LBool(false))
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LBool(true))
	return 1
}

func (h *Harness) luaKVGet(L *lua.LState) int {
	key := L.CheckString(1)
	if h.kv == nil {
		L.Push(lua.LNil)
		return 1
	}
	value, ok, err := h.kv.KVGet(context.Background(), key)
	if err != nil || !ok {
		L.Push(lua.LNil)
		return 1
	}
	L.Push(lua.LString(value))
	return 1
}

func (h *Harness) luaKVDelete(L *lua.LState) int {
	key := L.CheckString(1)
	if h.kv == nil {
		L.Push(lua.LBool(false))
		return 1
	}
	if err := h.kv.KVDelete(context.Background(), key); err != nil {
		L.Push(lua.LBool(false))
		L.Push(lua.LString(err.Error()))
		return 2
	}
	L.Push(lua.LBool(true))
	return 1
}
