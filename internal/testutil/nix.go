package testutil

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/ominit/nix-relay/internal/command"
)

// FakeNix simulates the nix tools the build system shells out to. It keeps
// a set of known derivations, the contents of the local store and of the
// remote cache, and records every invocation.
type FakeNix struct {
	mu      sync.Mutex
	drvs    map[string]fakeDrv
	aliases map[string]string
	local   map[string]bool // output paths present locally
	cache   map[string]bool // keys present in the remote cache
	added   map[string]int  // keys submitted through `nix derivation add`

	failRealise map[string]bool
	failPush    map[string]bool
	// addBlockers makes `derivation add` of a key fail until every listed
	// key has been added.
	addBlockers map[string][]string

	calls []command.Cmd
}

type fakeDrv struct {
	key  string
	out  string
	deps []string
}

// NewFakeNix returns an empty FakeNix.
func NewFakeNix() *FakeNix {
	return &FakeNix{
		drvs:        make(map[string]fakeDrv),
		aliases:     make(map[string]string),
		local:       make(map[string]bool),
		cache:       make(map[string]bool),
		added:       make(map[string]int),
		failRealise: make(map[string]bool),
		failPush:    make(map[string]bool),
		addBlockers: make(map[string][]string),
	}
}

// Key returns the store path used for a derivation named name.
func Key(name string) string { return "/nix/store/" + name + ".drv" }

// Out returns the output path of the derivation named name.
func Out(name string) string { return "/nix/store/" + name }

// AddDerivation declares derivation name with dependencies on the named
// derivations. It returns the derivation's key.
func (f *FakeNix) AddDerivation(name string, deps ...string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, len(deps))
	for i, d := range deps {
		keys[i] = Key(d)
	}
	f.drvs[Key(name)] = fakeDrv{key: Key(name), out: Out(name), deps: keys}
	return Key(name)
}

// Alias makes ref resolve to the derivation named name.
func (f *FakeNix) Alias(ref, name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.aliases[ref] = Key(name)
}

// SetLocal marks the output of name as present in the local store.
func (f *FakeNix) SetLocal(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.local[Out(name)] = true
}

// SetCached marks name as present in the remote cache.
func (f *FakeNix) SetCached(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cache[Key(name)] = true
}

// FailRealise makes local builds of name fail.
func (f *FakeNix) FailRealise(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failRealise[Key(name)] = true
}

// FailPush makes uploads of name to the cache fail.
func (f *FakeNix) FailPush(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failPush[Key(name)] = true
}

// BlockAdd makes adding the key blocked fail until every key in after has
// been added.
func (f *FakeNix) BlockAdd(blocked string, after ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.addBlockers[blocked] = after
}

// IsLocal reports whether the output of name is in the local store.
func (f *FakeNix) IsLocal(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.local[Out(name)]
}

// IsCached reports whether name is in the remote cache.
func (f *FakeNix) IsCached(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cache[Key(name)]
}

// Added returns the keys submitted with `nix derivation add`, sorted.
func (f *FakeNix) Added() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.added))
	for k := range f.added {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Payload returns the resolver output for the derivation named name.
func (f *FakeNix) Payload(name string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.render(f.drvs[Key(name)])
}

// Calls returns every recorded command line.
func (f *FakeNix) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	lines := make([]string, len(f.calls))
	for i, c := range f.calls {
		lines[i] = c.String()
	}
	return lines
}

// Count returns how many recorded command lines start with prefix.
func (f *FakeNix) Count(prefix string) int {
	n := 0
	for _, line := range f.Calls() {
		if strings.HasPrefix(line, prefix) {
			n++
		}
	}
	return n
}

// Run implements command.Runner.
func (f *FakeNix) Run(_ context.Context, cmd command.Cmd) (*command.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, cmd)

	args := cmd.Args
	switch {
	case cmd.Name == "nix" && len(args) == 3 && args[0] == "derivation" && args[1] == "show":
		return f.show(args[2]), nil
	case cmd.Name == "nix" && len(args) == 2 && args[0] == "derivation" && args[1] == "add":
		return f.add(cmd.Stdin), nil
	case cmd.Name == "nix-store" && len(args) == 2 && args[0] == "--verify-path":
		if f.local[args[1]] {
			return ok(""), nil
		}
		return fail(1, "path '"+args[1]+"' is not valid"), nil
	case cmd.Name == "nix-store" && len(args) == 2 && args[0] == "--realise":
		return f.realise(args[1]), nil
	case cmd.Name == "nix" && len(args) >= 4 && args[0] == "copy":
		return f.copy(args[1], strings.TrimSuffix(args[3], "^*")), nil
	}
	return fail(127, "unexpected command: "+cmd.String()), nil
}

func (f *FakeNix) show(arg string) *command.Result {
	key := arg
	if k, ok := f.aliases[arg]; ok {
		key = k
	}
	d, known := f.drvs[key]
	if !known {
		return fail(1, fmt.Sprintf("error: cannot resolve '%s'", arg))
	}
	return &command.Result{Stdout: f.render(d)}
}

func (f *FakeNix) render(d fakeDrv) []byte {
	inputs := make(map[string]any, len(d.deps))
	for _, dep := range d.deps {
		inputs[dep] = map[string]any{"dynamicOutputs": map[string]any{}, "outputs": []string{"out"}}
	}
	doc := map[string]any{
		d.key: map[string]any{
			"name":      strings.TrimSuffix(strings.TrimPrefix(d.key, "/nix/store/"), ".drv"),
			"system":    "x86_64-linux",
			"outputs":   map[string]any{"out": map[string]string{"path": d.out}},
			"inputDrvs": inputs,
		},
	}
	raw, _ := json.MarshalIndent(doc, "", "  ")
	return raw
}

func (f *FakeNix) add(stdin []byte) *command.Result {
	var rec struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(stdin, &rec); err != nil || rec.Name == "" {
		return fail(1, "error: invalid derivation")
	}
	key := Key(rec.Name)
	for _, dep := range f.addBlockers[key] {
		if f.added[dep] == 0 {
			return fail(1, "error: input '"+dep+"' does not exist")
		}
	}
	f.added[key]++
	return ok(key)
}

func (f *FakeNix) realise(key string) *command.Result {
	if f.failRealise[key] {
		return fail(1, "error: builder for '"+key+"' failed with exit code 2")
	}
	d, known := f.drvs[key]
	if !known {
		return fail(1, "error: don't know how to build '"+key+"'")
	}
	f.local[d.out] = true
	return ok(d.out)
}

func (f *FakeNix) copy(direction, key string) *command.Result {
	d := f.drvs[key]
	switch direction {
	case "--from":
		if !f.cache[key] {
			return fail(1, "error: path '"+key+"' is not in the binary cache")
		}
		f.local[d.out] = true
		return ok("")
	case "--to":
		if f.failPush[key] || !f.local[d.out] {
			return fail(1, "error: cannot upload '"+key+"'")
		}
		f.cache[key] = true
		return ok("")
	}
	return fail(1, "unknown copy direction "+direction)
}

func ok(stdout string) *command.Result {
	return &command.Result{Stdout: []byte(stdout)}
}

func fail(code int, stderr string) *command.Result {
	return &command.Result{ExitCode: code, Stderr: []byte(stderr)}
}
