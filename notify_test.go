package comptree

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotificationsFollowOneOwner(t *testing.T) {
	s := newSiblings(t)

	require.NoError(t, s.root.AddNotifiedResource("r", Owner(s.a.Instance())))
	assert.Empty(t, s.rec.withPrefix("event:root "), "nothing declared yet")

	s.a.DeclareResource("r", 1)
	s.b.DeclareResource("r", 2)
	s.a.DeclareResource("r", 3)
	s.a.DeclareResourceAsNull("r")
	require.NoError(t, s.a.DeleteResource("r"))
	s.a.DeclareResource("r", 4)

	assert.Equal(t, []string{
		"r root/a created",
		"r root/a modified",
		"r root/a declared-as-null",
		"r root/a deleted",
	}, s.rec.withPrefix("event:root "))
}

func TestNotificationOnExistingEntry(t *testing.T) {
	s := newSiblings(t)
	s.a.DeclareResource("r", 1)

	require.NoError(t, s.root.AddNotifiedResource("r"))
	require.NoError(t, s.root.AddNotifiedResource("r"), "subscribing twice is a no-op")
	assert.Equal(t, []string{"r root/a created"}, s.rec.withPrefix("event:root "))

	require.NoError(t, s.root.RemoveNotifiedResource("r"))
	assert.Equal(t, []string{"r root/a created", "r root/a deleted"}, s.rec.withPrefix("event:root "))

	var notDeclared ResourceNotDeclaredError
	require.ErrorAs(t, s.root.RemoveNotifiedResource("r"), &notDeclared)

	s.a.DeclareResource("r", 2)
	assert.Len(t, s.rec.withPrefix("event:root "), 2)
}

func TestNotificationAmbiguity(t *testing.T) {
	s := newSiblings(t)
	s.a.DeclareResource("r", 1)
	s.b.DeclareResource("r", 2)

	var ambiguous ResourceAmbiguityError
	require.ErrorAs(t, s.root.AddNotifiedResource("r"), &ambiguous)
	assert.Equal(t, 2, ambiguous.Count)

	require.NoError(t, s.root.AddNotifiedResource("r", Owner(s.b.Instance())))
	assert.Equal(t, []string{"r root/b created"}, s.rec.withPrefix("event:root "))
}

func TestRemoveNotificationAmbiguity(t *testing.T) {
	s := newSiblings(t)
	s.a.DeclareResource("r", 1)
	s.b.DeclareResource("r", 2)
	require.NoError(t, s.root.AddNotifiedResource("r", Owner(s.a.Instance())))
	require.NoError(t, s.root.AddNotifiedResource("r", Owner(s.b.Instance())))

	var ambiguous ResourceAmbiguityError
	require.ErrorAs(t, s.root.RemoveNotifiedResource("r"), &ambiguous)
	assert.Equal(t, 2, ambiguous.Count)
	assert.Len(t, s.e.subs["r"], 2, "nothing is removed")

	require.NoError(t, s.root.RemoveNotifiedResource("r", Owner(s.b.Instance())))
	assert.Equal(t, []string{
		"r root/a created",
		"r root/b created",
		"r root/b deleted",
	}, s.rec.withPrefix("event:root "))
	assert.Len(t, s.e.subs["r"], 1)
}

func TestRemoveWaitingNotification(t *testing.T) {
	s := newSiblings(t)
	require.NoError(t, s.root.AddNotifiedResource("p"))
	require.NoError(t, s.root.RemoveNotifiedResource("p"))

	s.a.DeclareResource("p", 1)
	assert.Empty(t, s.rec.withPrefix("event:root "))

	var notDeclared ResourceNotDeclaredError
	require.ErrorAs(t, s.root.RemoveNotifiedResource("p"), &notDeclared)
}

func TestNotificationWaitsForFirstOwner(t *testing.T) {
	s := newSiblings(t)

	require.NoError(t, s.root.AddNotifiedResource("p"))
	s.b.DeclareResource("p", 1)
	s.a.DeclareResource("p", 2)
	s.b.DeclareResource("p", 3)

	assert.Equal(t, []string{"p root/b created", "p root/b modified"}, s.rec.withPrefix("event:root "))
}

func TestNotificationRequiresObserver(t *testing.T) {
	types := NewTypeRegistry()
	require.NoError(t, Register(types, "Plain", Definition[*plainComponent]{
		New: func(_ context.Context, h *Handle) (*plainComponent, error) {
			return &plainComponent{h: h}, nil
		},
	}))
	e := newTestEngine(t, "plain:\n  type: Plain\n", types)

	inst, err := e.Request(context.Background(), "plain")
	require.NoError(t, err)
	require.ErrorIs(t, inst.Handle().AddNotifiedResource("r"), ErrNotResourceObserver)
}

func TestDestroyedOwnerNotifiesOnce(t *testing.T) {
	s := newSiblings(t)
	owner := Owner(s.a.Instance())
	require.NoError(t, s.root.AddNotifiedResource("r", owner))
	require.NoError(t, s.deep.AddNotifiedResource("r", owner))
	require.NoError(t, s.root.AddNotifiedResource("s", Owner(s.b.Instance())))
	s.a.DeclareResource("r", 1)
	s.b.DeclareResource("s", 1)

	s.e.Destroy(s.a.Instance())
	s.b.DeclareResource("s", 2)

	assert.Equal(t, []string{
		"r root/a created",
		"s root/b created",
		"r root/a deleted",
		"s root/b modified",
	}, s.rec.withPrefix("event:root "))
	assert.Equal(t, []string{"r root/a created"}, s.rec.withPrefix("event:root/a/deep "),
		"children are destroyed before the owner's entries")
	assert.Empty(t, s.rec.withPrefix("event:root/a "))

	s.e.mu.Lock()
	defer s.e.mu.Unlock()
	assert.NotContains(t, s.e.subs, "r")
	assert.Len(t, s.e.subs["s"], 1)
}

func TestDestroyedObserverIsUnsubscribed(t *testing.T) {
	s := newSiblings(t)
	require.NoError(t, s.deep.AddNotifiedResource("r", Owner(s.b.Instance())))
	require.NoError(t, s.deep.AddNotifiedResource("later"))

	s.e.Destroy(s.deep.Instance())
	s.b.DeclareResource("r", 1)
	s.b.DeclareResource("later", 1)

	assert.Empty(t, s.rec.withPrefix("event:root/a/deep "))
	s.e.mu.Lock()
	defer s.e.mu.Unlock()
	assert.Empty(t, s.e.subs)
}

const watcherDoc = `
root:
  type: Node
  watcher:
    type: Watcher
    watch: feed
  zfeeder:
    type: Feeder
`

// registerWatchers adds Watcher, which subscribes from its constructor to
// the resource named by its "watch" parameter (and drops the subscription
// again when "cancel" is set), and Feeder, which declares "feed".
func registerWatchers(t *testing.T, types *TypeRegistry, rec *testRecorder) {
	t.Helper()
	registerTestNode(t, types, "Node", rec)
	require.NoError(t, Register(types, "Watcher", Definition[*testNode]{
		New: func(ctx context.Context, h *Handle) (*testNode, error) {
			n, err := newTestNode(ctx, h, rec)
			if err != nil {
				return nil, err
			}
			name, err := h.Value("watch")
			if err != nil {
				return nil, err
			}
			if err := h.AddNotifiedResource(name); err != nil {
				return nil, err
			}
			if _, err := h.Value("cancel"); err == nil {
				if err := h.RemoveNotifiedResource(name); err != nil {
					return nil, err
				}
			}
			return n, nil
		},
	}))
	require.NoError(t, Register(types, "Feeder", Definition[*testNode]{
		New: func(ctx context.Context, h *Handle) (*testNode, error) {
			n, err := newTestNode(ctx, h, rec)
			if err != nil {
				return nil, err
			}
			h.DeclareResource("feed", 7)
			return n, nil
		},
	}))
}

func TestSubscriptionDuringConstructionWaitsForReady(t *testing.T) {
	rec := &testRecorder{}
	types := NewTypeRegistry()
	registerWatchers(t, types, rec)
	e := newTestEngine(t, watcherDoc, types)

	_, err := e.Request(context.Background(), "root")
	require.NoError(t, err)

	events := rec.list()
	require.NotEmpty(t, events)
	assert.Equal(t, "event:root/watcher feed root/zfeeder created", events[len(events)-1])
	assert.Equal(t, "post:root", events[len(events)-2])
	assert.Len(t, rec.withPrefix("event:"), 1)
}

func TestSubscriptionCancelledBeforeReady(t *testing.T) {
	rec := &testRecorder{}
	types := NewTypeRegistry()
	registerWatchers(t, types, rec)
	doc := `
root:
  type: Node
  watcher:
    type: Watcher
    watch: feed
    cancel: "yes"
  zfeeder:
    type: Feeder
`
	e := newTestEngine(t, doc, types)

	_, err := e.Request(context.Background(), "root")
	require.NoError(t, err)
	assert.Empty(t, rec.withPrefix("event:"))
}

func TestDeferredSubscriptionFailureRollsBack(t *testing.T) {
	rec := &testRecorder{}
	types := NewTypeRegistry()
	registerWatchers(t, types, rec)
	doc := `
root:
  type: Node
  watcher:
    type: Watcher
    watch: feed
  zf1:
    type: Feeder
  zf2:
    type: Feeder
`
	e := newTestEngine(t, doc, types)

	_, err := e.Request(context.Background(), "root")
	var ambiguous ResourceAmbiguityError
	require.ErrorAs(t, err, &ambiguous)
	assert.Empty(t, e.Instances())
	assert.ElementsMatch(t, []string{"root", "root/watcher", "root/zf1", "root/zf2"}, rec.withPrefix("destroy:"))
}
