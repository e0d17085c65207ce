package exchange

import (
	"context"
	"log/slog"
	"reflect"
	"sort"
	"testing"

	"github.com/nextlevelbuilder/goflock/internal/config"
	"github.com/nextlevelbuilder/goflock/internal/store"
)

func testExchange(t *testing.T, cfg config.ExchangeConfig) (*Exchange, *store.Stores) {
	t.Helper()
	stores, err := store.OpenInMemory()
	if err != nil {
		t.Fatalf("open stores: %v", err)
	}
	t.Cleanup(func() { stores.Close() })
	return New(stores.Exchange, stores.Rooms, cfg, slog.Default()), stores
}

func defaultCfg() config.ExchangeConfig {
	return config.ExchangeConfig{
		Enabled:             true,
		MinConfidence:       0.85,
		AutoApprove:         true,
		ShareableCategories: []string{"user_preference", "technique", "pitfall"},
	}
}

func TestPromoteGeneralScope(t *testing.T) {
	e, stores := testExchange(t, defaultCfg())

	id, err := e.Promote(store.Learning{
		ID:         "l1",
		OwnerBot:   "maya",
		Text:       "User prefers threads kept under five posts",
		Category:   "user_preference",
		Confidence: 0.92,
	}, "lounge")
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if id == "" {
		t.Fatal("promotion returned no package id")
	}

	pkg, err := stores.Exchange.Get(id)
	if err != nil || pkg == nil {
		t.Fatalf("get package: %v", err)
	}
	if pkg.Scope != store.ScopeGeneral {
		t.Errorf("scope = %s, want general for an unregistered room", pkg.Scope)
	}
	if pkg.Status != store.PackageQueued || pkg.SourceBot != "maya" {
		t.Errorf("package = %+v", pkg)
	}
}

func TestPromoteRejectsBelowThresholdAndUnshareable(t *testing.T) {
	e, _ := testExchange(t, defaultCfg())

	id, err := e.Promote(store.Learning{
		ID: "l1", OwnerBot: "maya", Text: "weak hunch",
		Category: "user_preference", Confidence: 0.6,
	}, "lounge")
	if err != nil || id != "" {
		t.Errorf("low-confidence learning promoted: id=%q err=%v", id, err)
	}

	id, err = e.Promote(store.Learning{
		ID: "l2", OwnerBot: "maya", Text: "private observation",
		Category: "personal_note", Confidence: 0.99,
	}, "lounge")
	if err != nil || id != "" {
		t.Errorf("unshareable category promoted: id=%q err=%v", id, err)
	}
}

func TestScopeFromRoomKind(t *testing.T) {
	e, stores := testExchange(t, defaultCfg())

	stores.Rooms.Create(store.Room{
		ID: "proj-x", Kind: store.RoomProject,
		Participants: []string{"lead", "maya", "devon"},
	})
	stores.Rooms.Create(store.Room{
		ID: "dm-maya", Kind: store.RoomDirect,
		Participants: []string{"maya", "devon"},
	})

	learning := store.Learning{
		ID: "l1", OwnerBot: "maya", Text: "the staging API rate-limits at 30 rpm",
		Category: "pitfall", Confidence: 0.9,
	}

	id, _ := e.Promote(learning, "proj-x")
	pkg, _ := stores.Exchange.Get(id)
	if pkg.Scope != store.ScopeProject || !reflect.DeepEqual(pkg.ApplicableRooms, []string{"proj-x"}) {
		t.Errorf("project room package = %+v", pkg)
	}

	id, _ = e.Promote(learning, "dm-maya")
	pkg, _ = stores.Exchange.Get(id)
	if pkg.Scope != store.ScopeBotSpecific || !reflect.DeepEqual(pkg.ApplicableBots, []string{"devon"}) {
		t.Errorf("direct room package = %+v", pkg)
	}
}

func TestWorkspaceScopeOverride(t *testing.T) {
	cfg := defaultCfg()
	cfg.WorkspaceScopes = map[string][]string{"ops-room": {"lead", "devon"}}
	e, stores := testExchange(t, cfg)

	id, _ := e.Promote(store.Learning{
		ID: "l1", OwnerBot: "maya", Text: "deploys freeze on fridays",
		Category: "technique", Confidence: 0.95,
	}, "ops-room")
	pkg, _ := stores.Exchange.Get(id)
	if pkg.Scope != store.ScopeTeam {
		t.Errorf("scope = %s, want team", pkg.Scope)
	}
	if !reflect.DeepEqual(pkg.ApplicableBots, []string{"lead", "devon"}) {
		t.Errorf("applicable bots = %v", pkg.ApplicableBots)
	}
}

func TestApplicableBotsExcludesSource(t *testing.T) {
	e, _ := testExchange(t, defaultCfg())
	for _, b := range []string{"lead", "maya", "devon"} {
		e.RegisterBot(b, func(store.LearningPackage) error { return nil })
	}

	got := e.ApplicableBots(store.LearningPackage{
		Scope: store.ScopeGeneral, SourceBot: "maya",
	})
	sort.Strings(got)
	if !reflect.DeepEqual(got, []string{"devon", "lead"}) {
		t.Errorf("recipients = %v, want all registered bots except the source", got)
	}
}

func TestRunCycleDistributes(t *testing.T) {
	e, stores := testExchange(t, defaultCfg())

	received := make(map[string][]string)
	for _, b := range []string{"lead", "maya", "devon"} {
		bot := b
		e.RegisterBot(bot, func(pkg store.LearningPackage) error {
			received[bot] = append(received[bot], pkg.ID)
			return nil
		})
	}

	id, _ := e.Promote(store.Learning{
		ID: "l1", OwnerBot: "maya",
		Text: "User prefers threads kept under five posts",
		Category: "user_preference", Confidence: 0.92,
	}, "lounge")

	n, err := e.RunCycle(context.Background())
	if err != nil {
		t.Fatalf("cycle: %v", err)
	}
	if n != 1 {
		t.Fatalf("distributed = %d, want 1", n)
	}

	if len(received["maya"]) != 0 {
		t.Error("source bot received its own learning")
	}
	for _, b := range []string{"lead", "devon"} {
		if len(received[b]) != 1 || received[b][0] != id {
			t.Errorf("bot %s received %v, want [%s]", b, received[b], id)
		}
	}

	pkg, _ := stores.Exchange.Get(id)
	if pkg.Status != store.PackageDistributed {
		t.Errorf("status = %s, want distributed", pkg.Status)
	}
	sort.Strings(pkg.DistributedTo)
	if !reflect.DeepEqual(pkg.DistributedTo, []string{"devon", "lead"}) {
		t.Errorf("distributed_to = %v", pkg.DistributedTo)
	}

	// Already distributed: the next cycle moves nothing.
	if n, _ := e.RunCycle(context.Background()); n != 0 {
		t.Errorf("second cycle distributed %d packages", n)
	}
}

func TestRunCycleRespectsAutoApprove(t *testing.T) {
	cfg := defaultCfg()
	cfg.AutoApprove = false
	e, stores := testExchange(t, cfg)
	e.RegisterBot("lead", func(store.LearningPackage) error { return nil })

	id, _ := e.Promote(store.Learning{
		ID: "l1", OwnerBot: "maya", Text: "hold for review",
		Category: "technique", Confidence: 0.9,
	}, "lounge")

	if n, _ := e.RunCycle(context.Background()); n != 0 {
		t.Fatalf("cycle distributed %d packages with auto_approve off", n)
	}
	pkg, _ := stores.Exchange.Get(id)
	if pkg.Status != store.PackageQueued {
		t.Fatalf("status = %s, want queued", pkg.Status)
	}

	// Manual approval distributes immediately.
	if err := e.Approve(id); err != nil {
		t.Fatalf("approve: %v", err)
	}
	pkg, _ = stores.Exchange.Get(id)
	if pkg.Status != store.PackageDistributed {
		t.Errorf("status after approve = %s, want distributed", pkg.Status)
	}
	if err := e.Approve(id); err == nil {
		t.Error("approving a distributed package succeeded")
	}
}

func TestDistributeArchivesWhenNobodyApplicable(t *testing.T) {
	e, stores := testExchange(t, defaultCfg())
	e.RegisterBot("maya", func(store.LearningPackage) error { return nil })

	id, _ := e.Promote(store.Learning{
		ID: "l1", OwnerBot: "maya", Text: "only the source knows",
		Category: "technique", Confidence: 0.9,
	}, "lounge")

	if n, _ := e.RunCycle(context.Background()); n != 0 {
		t.Fatalf("distributed %d, want 0", n)
	}
	pkg, _ := stores.Exchange.Get(id)
	if pkg.Status != store.PackageArchived {
		t.Errorf("status = %s, want archived when nobody is applicable", pkg.Status)
	}
}

func TestRunCycleDistributesStoreApprovedPackages(t *testing.T) {
	cfg := defaultCfg()
	cfg.AutoApprove = false
	e, stores := testExchange(t, cfg)

	received := false
	e.RegisterBot("lead", func(store.LearningPackage) error {
		received = true
		return nil
	})

	id, _ := e.Promote(store.Learning{
		ID: "l1", OwnerBot: "maya", Text: "approved out of band",
		Category: "technique", Confidence: 0.9,
	}, "lounge")

	// Approval from the CLI path flips the row; the next cycle
	// distributes it even with auto_approve off.
	if err := stores.Exchange.ApprovePackage(id); err != nil {
		t.Fatalf("approve package: %v", err)
	}
	if err := stores.Exchange.ApprovePackage(id); err == nil {
		t.Error("re-approving an approved package succeeded")
	}

	if n, _ := e.RunCycle(context.Background()); n != 1 {
		t.Fatalf("cycle distributed %d, want 1", n)
	}
	if !received {
		t.Error("registered bot never received the package")
	}
	pkg, _ := stores.Exchange.Get(id)
	if pkg.Status != store.PackageDistributed {
		t.Errorf("status = %s, want distributed", pkg.Status)
	}
}
