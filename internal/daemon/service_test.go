//go:build unix

package daemon

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	. "github.com/onsi/gomega"
	"github.com/stretchr/testify/require"

	"txfs/internal/action"
	"txfs/internal/backup"
)

type serviceEnv struct {
	svc     *Service
	dir     string
	stopped bool
}

func newServiceEnv(t *testing.T) *serviceEnv {
	t.Helper()
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	store, err := backup.NewStore(filepath.Join(dir, ".backups"))
	require.NoError(t, err)

	env := &serviceEnv{dir: dir}
	env.svc = NewService(context.Background(), store, 50, time.Hour, func() { env.stopped = true })
	return env
}

func (e *serviceEnv) path(name string) string {
	return filepath.Join(e.dir, name)
}

func (e *serviceEnv) apply(t *testing.T, a action.Action) *Response {
	t.Helper()
	raw, err := action.Encode(a)
	require.NoError(t, err)
	return e.svc.Handle(&Request{Type: RequestApply, Action: raw})
}

func TestServiceRenameUndoRedo(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)
	env := newServiceEnv(t)
	g.Expect(os.WriteFile(env.path("A"), []byte("hello"), 0644)).To(Succeed())

	resp := env.apply(t, action.NewRename(env.path("A"), env.path("B")))
	g.Expect(resp.Success).To(BeTrue(), resp.Error)
	g.Expect(env.path("B")).To(BeAnExistingFile())
	g.Expect(env.path("A")).NotTo(BeAnExistingFile())

	status := env.svc.Handle(&Request{Type: RequestStatus})
	g.Expect(status.History.CanUndo).To(BeTrue())
	g.Expect(status.History.Undo).To(ConsistOf(ContainSubstring("rename")))

	resp = env.svc.Handle(&Request{Type: RequestUndo})
	g.Expect(resp.Success).To(BeTrue(), resp.Error)
	g.Expect(resp.Message).To(HavePrefix("Undid rename"))
	g.Expect(os.ReadFile(env.path("A"))).To(Equal([]byte("hello")))

	resp = env.svc.Handle(&Request{Type: RequestRedo})
	g.Expect(resp.Success).To(BeTrue(), resp.Error)
	g.Expect(env.path("B")).To(BeAnExistingFile())

	resp = env.svc.Handle(&Request{Type: RequestRedo})
	g.Expect(resp.Success).To(BeFalse())
	g.Expect(resp.ErrorKind).To(Equal("empty_history"))
}

func TestServiceSoftDeleteAndCreate(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)
	env := newServiceEnv(t)
	g.Expect(os.WriteFile(env.path("F"), []byte("payload"), 0644)).To(Succeed())

	resp := env.svc.Handle(&Request{Type: RequestBackupPath, Path: env.path("F")})
	g.Expect(resp.Success).To(BeTrue(), resp.Error)
	deleteBackup := resp.BackupPath

	resp = env.apply(t, action.NewDelete(env.path("F"), deleteBackup))
	g.Expect(resp.Success).To(BeTrue(), resp.Error)
	g.Expect(env.path("F")).NotTo(BeAnExistingFile())
	g.Expect(os.ReadFile(deleteBackup)).To(Equal([]byte("payload")))

	resp = env.svc.Handle(&Request{Type: RequestBackupPath, Path: env.path("new.txt")})
	g.Expect(resp.Success).To(BeTrue(), resp.Error)
	g.Expect(os.WriteFile(resp.BackupPath, []byte("fresh"), 0644)).To(Succeed())

	resp = env.apply(t, action.NewCreate(env.path("new.txt"), resp.BackupPath))
	g.Expect(resp.Success).To(BeTrue(), resp.Error)
	g.Expect(os.ReadFile(env.path("new.txt"))).To(Equal([]byte("fresh")))

	for range 2 {
		resp = env.svc.Handle(&Request{Type: RequestUndo})
		g.Expect(resp.Success).To(BeTrue(), resp.Error)
	}
	g.Expect(env.path("new.txt")).NotTo(BeAnExistingFile())
	g.Expect(os.ReadFile(env.path("F"))).To(Equal([]byte("payload")))
}

func TestServiceBatchIsOneEntry(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)
	env := newServiceEnv(t)

	resp := env.apply(t, action.NewBatch(
		action.NewCreateFolder(env.path("D")),
		action.NewCreateFolder(env.path("D/E")),
	))
	g.Expect(resp.Success).To(BeTrue(), resp.Error)
	g.Expect(env.path("D/E")).To(BeADirectory())

	status := env.svc.Handle(&Request{Type: RequestStatus})
	g.Expect(status.History.Undo).To(HaveLen(1))

	resp = env.svc.Handle(&Request{Type: RequestUndo})
	g.Expect(resp.Success).To(BeTrue(), resp.Error)
	g.Expect(env.path("D")).NotTo(BeADirectory())
}

func TestServiceFailedBatchLeavesNoTrace(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)
	env := newServiceEnv(t)
	g.Expect(os.WriteFile(env.path("src"), []byte("s"), 0644)).To(Succeed())
	g.Expect(os.WriteFile(env.path("taken"), []byte("t"), 0644)).To(Succeed())

	resp := env.apply(t, action.NewBatch(
		action.NewCreateFolder(env.path("D")),
		action.NewCopy(env.path("src"), env.path("taken")),
	))
	g.Expect(resp.Success).To(BeFalse())
	g.Expect(resp.ErrorKind).To(Equal("exists"))
	g.Expect(env.path("D")).NotTo(BeADirectory())
	g.Expect(os.ReadFile(env.path("taken"))).To(Equal([]byte("t")))

	status := env.svc.Handle(&Request{Type: RequestStatus})
	g.Expect(status.History.CanUndo).To(BeFalse())
}

func TestServiceRecordAndClear(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)
	env := newServiceEnv(t)

	raw, err := action.Encode(action.NewCreateFolder(env.path("elsewhere")))
	g.Expect(err).NotTo(HaveOccurred())
	resp := env.svc.Handle(&Request{Type: RequestRecord, Action: raw})
	g.Expect(resp.Success).To(BeTrue(), resp.Error)
	g.Expect(env.path("elsewhere")).NotTo(BeADirectory(), "record must not execute")

	resp = env.svc.Handle(&Request{Type: RequestClear})
	g.Expect(resp.Success).To(BeTrue())
	status := env.svc.Handle(&Request{Type: RequestStatus})
	g.Expect(status.History.Undo).To(BeEmpty())
}

func TestServiceChmod(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)
	env := newServiceEnv(t)
	g.Expect(os.WriteFile(env.path("a"), []byte("a"), 0644)).To(Succeed())
	g.Expect(os.WriteFile(env.path("b"), []byte("b"), 0644)).To(Succeed())

	readOnly := true
	resp := env.svc.Handle(&Request{
		Type:     RequestChmod,
		Paths:    []string{env.path("a"), env.path("missing")},
		ReadOnly: &readOnly,
	})
	g.Expect(resp.Success).To(BeFalse())
	g.Expect(resp.ErrorKind).To(Equal("not_found"))
	info, err := os.Stat(env.path("a"))
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(info.Mode().Perm()).To(Equal(os.FileMode(0644)))

	resp = env.svc.Handle(&Request{Type: RequestChmod, Paths: []string{env.path("a"), env.path("b")}, Mode: "0600"})
	g.Expect(resp.Success).To(BeTrue(), resp.Error)
	for _, name := range []string{"a", "b"} {
		info, err := os.Stat(env.path(name))
		g.Expect(err).NotTo(HaveOccurred())
		g.Expect(info.Mode().Perm()).To(Equal(os.FileMode(0600)))
	}

	resp = env.svc.Handle(&Request{Type: RequestChmod, Paths: []string{env.path("a")}, Mode: "9"})
	g.Expect(resp.ErrorKind).To(Equal("invalid_input"))
}

func TestServiceSweep(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)
	env := newServiceEnv(t)

	resp := env.svc.Handle(&Request{Type: RequestBackupPath, Path: env.path("x")})
	g.Expect(resp.Success).To(BeTrue(), resp.Error)

	resp = env.svc.Handle(&Request{Type: RequestSweep})
	g.Expect(resp.Success).To(BeTrue(), resp.Error)
	g.Expect(resp.Sweep.Kept).To(Equal(1))

	time.Sleep(20 * time.Millisecond)
	resp = env.svc.Handle(&Request{Type: RequestSweep, MaxAge: "10ms"})
	g.Expect(resp.Success).To(BeTrue(), resp.Error)
	g.Expect(resp.Sweep.Removed).To(Equal(1))

	resp = env.svc.Handle(&Request{Type: RequestSweep, MaxAge: "later"})
	g.Expect(resp.ErrorKind).To(Equal("invalid_input"))
}

func TestServiceRejectsBadRequests(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)
	env := newServiceEnv(t)

	resp := env.svc.Handle(&Request{Type: "bogus"})
	g.Expect(resp.Success).To(BeFalse())

	resp = env.svc.Handle(&Request{Type: RequestApply, Action: json.RawMessage(`{"kind":"move"}`)})
	g.Expect(resp.ErrorKind).To(Equal("invalid_input"))

	resp = env.svc.Handle(&Request{Type: RequestStop})
	g.Expect(resp.Success).To(BeTrue())
	g.Expect(env.stopped).To(BeTrue())
}

func TestServiceMkdirAll(t *testing.T) {
	t.Parallel()
	g := NewWithT(t)
	env := newServiceEnv(t)
	g.Expect(os.Mkdir(env.path("a"), 0755)).To(Succeed())
	g.Expect(os.WriteFile(env.path("a/file"), []byte("x"), 0644)).To(Succeed())

	resp := env.svc.Handle(&Request{Type: RequestMkdirAll, Paths: []string{
		env.path("a/b/c"), env.path("a/b/d"), env.path("x"),
	}})
	g.Expect(resp.Success).To(BeTrue(), resp.Error)
	g.Expect(env.path("a/b/c")).To(BeADirectory())
	g.Expect(env.path("a/b/d")).To(BeADirectory())
	g.Expect(env.path("x")).To(BeADirectory())

	status := env.svc.Handle(&Request{Type: RequestStatus})
	g.Expect(status.History.Undo).To(HaveLen(1))

	resp = env.svc.Handle(&Request{Type: RequestMkdirAll, Paths: []string{env.path("a/b")}})
	g.Expect(resp.Success).To(BeTrue(), resp.Error)
	g.Expect(resp.Message).To(Equal("Nothing to create"))

	resp = env.svc.Handle(&Request{Type: RequestMkdirAll, Paths: []string{env.path("a/file/sub")}})
	g.Expect(resp.Success).To(BeFalse())
	g.Expect(resp.ErrorKind).To(Equal("exists"))

	resp = env.svc.Handle(&Request{Type: RequestUndo})
	g.Expect(resp.Success).To(BeTrue(), resp.Error)
	g.Expect(env.path("a/b")).NotTo(BeAnExistingFile())
	g.Expect(env.path("x")).NotTo(BeAnExistingFile())
	g.Expect(env.path("a/file")).To(BeARegularFile())

	resp = env.svc.Handle(&Request{Type: RequestMkdirAll})
	g.Expect(resp.ErrorKind).To(Equal("invalid_input"))
}
