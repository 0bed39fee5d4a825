package toolchain

import (
	"context"
	"errors"
	"testing"

	"github.com/incbuild/incc/pkg/callback"
	"github.com/incbuild/incc/pkg/classfiles"
	"github.com/incbuild/incc/pkg/compile"
	"github.com/incbuild/incc/pkg/stamp"
	"github.com/incbuild/incc/pkg/vfs"
)

// scriptedExecutor returns canned report bytes instead of running a process.
type scriptedExecutor struct {
	output []byte
	err    error
	args   []string
}

func (e *scriptedExecutor) RunCompile(_ context.Context, _ string, args []string) ([]byte, error) {
	e.args = args
	return e.output, e.err
}

func TestFuncReplaysReportIntoCallback(t *testing.T) {
	conv := vfs.NewMapConverter()
	conv.Put("A.src", []byte("class A { def foo(): Int }"))
	conv.Put("out/A.class", []byte("bytecode"))

	exe := &scriptedExecutor{output: []byte(sampleReport)}
	fn := Func(exe, conv, ".", "out")

	oracle := stamp.NewOracle(conv)
	mgr := classfiles.NewDeleteImmediately(conv)
	cb := callback.New(callback.Options{}, nil, nil, oracle, mgr, "out", 1)

	sources := []vfs.VirtualFile{conv.ToVirtualFile("A.src")}
	ch := compile.DependencyChanges{ModifiedClasses: []string{"ext.X"}}
	if err := fn(context.Background(), sources, ch, cb, mgr); err != nil {
		t.Fatalf("compile func unexpected error: %v", err)
	}

	delta, err := cb.Get()
	if err != nil {
		t.Fatalf("Get() unexpected error: %v", err)
	}
	api, ok := delta.InternalAPI("A")
	if !ok || len(api.NameHashes) == 0 {
		t.Errorf("replayed class missing from delta: %+v %v", api, ok)
	}
	if libs := delta.Relations.LibrariesOf("A.src"); len(libs) != 1 || libs[0] != "lib/rt.jar" {
		t.Errorf("replayed binary dep not recorded as library: %v", libs)
	}
	info := delta.Infos["A.src"]
	if len(info.Reported) != 1 || len(info.MainClasses) != 1 {
		t.Errorf("diagnostics or main classes lost: %+v", info)
	}

	// The upstream deltas reach the compiler command line.
	found := false
	for i, a := range exe.args {
		if a == "--changed-class" && i+1 < len(exe.args) && exe.args[i+1] == "ext.X" {
			found = true
		}
	}
	if !found {
		t.Errorf("changed classes not passed to the compiler: %v", exe.args)
	}
}

func TestReplayRejectsUnrequestedSource(t *testing.T) {
	conv := vfs.NewMapConverter()
	conv.Put("B.src", []byte("class B"))

	exe := &scriptedExecutor{output: []byte(sampleReport)} // report covers A.src
	fn := Func(exe, conv, ".", "out")

	oracle := stamp.NewOracle(conv)
	mgr := classfiles.NewDeleteImmediately(conv)
	cb := callback.New(callback.Options{}, nil, nil, oracle, mgr, "out", 1)

	err := fn(context.Background(), []vfs.VirtualFile{conv.ToVirtualFile("B.src")}, compile.DependencyChanges{}, cb, mgr)
	if !errors.Is(err, compile.ErrCompileFailed) {
		t.Errorf("expected ErrCompileFailed for a report covering unrequested sources, got %v", err)
	}
}
