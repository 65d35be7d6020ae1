package comptree

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chenyanchen/comptree/configstore"
)

type testRecorder struct {
	mu     sync.Mutex
	events []string
}

func (r *testRecorder) add(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, fmt.Sprintf(format, args...))
}

func (r *testRecorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

// withPrefix returns the recorded events starting with prefix, prefix removed.
func (r *testRecorder) withPrefix(prefix string) []string {
	var out []string
	for _, ev := range r.list() {
		if strings.HasPrefix(ev, prefix) {
			out = append(out, strings.TrimPrefix(ev, prefix))
		}
	}
	return out
}

func newTestStore(t *testing.T, doc string) *configstore.Store {
	t.Helper()
	s := configstore.New()
	require.NoError(t, configstore.YAML{}.Decode(strings.NewReader(doc), s))
	return s
}

func newTestEngine(t *testing.T, doc string, types *TypeRegistry, opts ...Option) *Engine {
	t.Helper()
	e, err := New(newTestStore(t, doc), append([]Option{WithTypes(types)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(e.DestroyAllComponents)
	return e
}

// testNode requests every sub-group carrying a type from its constructor and
// records each lifecycle step. The "fail" parameter makes a phase fail.
type testNode struct {
	h        *Handle
	rec      *testRecorder
	children []*Instance
}

var errPhase = errors.New("phase failed")

func (n *testNode) failIn(phase string) error {
	if v, err := n.h.Value("fail"); err == nil && v == phase {
		return fmt.Errorf("%s %s: %w", phase, n.h.Path(), errPhase)
	}
	return nil
}

func (n *testNode) Configure(context.Context) error {
	n.rec.add("configure:%s", n.h.Path())
	return n.failIn("configure")
}

func (n *testNode) PostConfigure(context.Context) error {
	n.rec.add("post:%s", n.h.Path())
	return n.failIn("post")
}

func (n *testNode) Destroy() {
	n.rec.add("destroy:%s", n.h.Path())
}

// ResourceChanged records notifications as "event:<observer> <name> <owner> <change>".
func (n *testNode) ResourceChanged(name string, owner *Instance, change ChangeType) {
	n.rec.add("event:%s %s %s %s", n.h.Path(), name, owner.Path(), change)
}

func newTestNode(ctx context.Context, h *Handle, rec *testRecorder) (*testNode, error) {
	rec.add("construct:%s", h.Path())
	n := &testNode{h: h, rec: rec}
	if err := n.failIn("construct"); err != nil {
		return nil, err
	}
	groups, err := h.Store().Groups(h.Path())
	if err != nil {
		return nil, err
	}
	for _, g := range groups {
		if !h.Store().ParameterExists(configstore.Join(h.Path(), g+"/"+TypeParameter)) {
			continue
		}
		child, err := h.Request(ctx, g)
		if err != nil {
			return nil, err
		}
		n.children = append(n.children, child)
	}
	return n, nil
}

func registerTestNode(t *testing.T, types *TypeRegistry, name string, rec *testRecorder) {
	t.Helper()
	require.NoError(t, Register(types, name, Definition[*testNode]{
		New: func(ctx context.Context, h *Handle) (*testNode, error) {
			return newTestNode(ctx, h, rec)
		},
	}))
}

// plainComponent implements no optional interface.
type plainComponent struct {
	h *Handle
}

// testCloser falls back to io.Closer on destruction.
type testCloser struct {
	rec  *testRecorder
	path string
}

func (c *testCloser) Close() error {
	c.rec.add("close:%s", c.path)
	return errors.New("close always fails")
}
