package syncqueue

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"syncmesh/internal/signature/verifier"
)

// fakeTarget remembers what it has been sent and answers skipped when the
// same content hash arrives twice, the way a real target would.
type fakeTarget struct {
	sent    map[string]string // (domain,path) -> content
	failing bool
	calls   int
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{sent: make(map[string]string)}
}

func (t *fakeTarget) Propagate(ctx context.Context, item *Item) (Outcome, error) {
	t.calls++
	if t.failing {
		return "", errors.New("target unreachable")
	}
	key := item.Domain + "/" + item.CanonicalPath
	if t.sent[key] == string(item.Content) {
		return OutcomeSkipped, nil
	}
	t.sent[key] = string(item.Content)
	return OutcomeSynced, nil
}

type EngineSuite struct {
	suite.Suite
	store  *MemoryStore
	target *fakeTarget
	engine *Engine
	ctx    context.Context
}

func TestEngineSuite(t *testing.T) {
	suite.Run(t, new(EngineSuite))
}

func (s *EngineSuite) SetupTest() {
	s.store = NewMemoryStore()
	s.target = newFakeTarget()
	s.engine = NewEngine(s.store, s.target, nil, slog.Default())
	s.ctx = context.Background()
}

func (s *EngineSuite) enqueue(path, content string) {
	s.Require().NoError(s.engine.Enqueue(s.ctx, "evt-1", "upsert", "docs", path, json.RawMessage(content)))
}

func (s *EngineSuite) TestDrainPropagatesPending() {
	s.enqueue("/a", `{"v":1}`)
	s.enqueue("/b", `{"v":2}`)

	report, err := s.engine.Drain(s.ctx, 10)
	s.Require().NoError(err)
	s.Equal(2, report.Succeeded)
	s.Equal(0, report.Skipped)
	s.Equal(0, report.Failed)

	pending, err := s.store.PendingCount(s.ctx)
	s.Require().NoError(err)
	s.Equal(0, pending)
}

func (s *EngineSuite) TestDrainHonorsLimit() {
	s.enqueue("/a", `{"v":1}`)
	s.enqueue("/b", `{"v":2}`)
	s.enqueue("/c", `{"v":3}`)

	report, err := s.engine.Drain(s.ctx, 2)
	s.Require().NoError(err)
	s.Equal(2, report.Succeeded)

	pending, err := s.store.PendingCount(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, pending)
}

func (s *EngineSuite) TestIdempotentReEnqueueReportsSkipped() {
	s.enqueue("/a", `{"v":1}`)
	first, err := s.engine.Drain(s.ctx, 10)
	s.Require().NoError(err)
	s.Equal(1, first.Succeeded)

	// Same logical document, same content: the target already reflects it.
	s.enqueue("/a", `{"v":1}`)
	second, err := s.engine.Drain(s.ctx, 10)
	s.Require().NoError(err)
	s.Equal(0, second.Succeeded)
	s.Equal(1, second.Skipped)
}

func (s *EngineSuite) TestLastWriteWinsContentSnapshot() {
	s.enqueue("/a", `{"v":1}`)
	s.enqueue("/a", `{"v":2}`)

	report, err := s.engine.Drain(s.ctx, 10)
	s.Require().NoError(err)
	s.Equal(1, report.Succeeded)
	s.Equal(`{"v":2}`, s.target.sent["docs//a"])
}

func (s *EngineSuite) TestFailedItemsStayPendingForRetry() {
	s.enqueue("/a", `{"v":1}`)
	s.target.failing = true

	report, err := s.engine.Drain(s.ctx, 10)
	s.Require().NoError(err)
	s.Equal(1, report.Failed)

	pending, err := s.store.PendingCount(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, pending)

	// Recovery: the next drain picks the task up again.
	s.target.failing = false
	retry, err := s.engine.Drain(s.ctx, 10)
	s.Require().NoError(err)
	s.Equal(1, retry.Succeeded)
}

func (s *EngineSuite) TestClaimedItemsNotDoubleProcessed() {
	s.enqueue("/a", `{"v":1}`)

	items, err := s.store.Claim(s.ctx, 10)
	s.Require().NoError(err)
	s.Len(items, 1)

	// A concurrent drain caller sees nothing to claim.
	again, err := s.store.Claim(s.ctx, 10)
	s.Require().NoError(err)
	s.Empty(again)
}

func (s *EngineSuite) TestStaleClaimIsReclaimed() {
	s.enqueue("/a", `{"v":1}`)

	items, err := s.store.Claim(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(items, 1)

	// The claimer dies without ever finishing or releasing. Once the
	// claim goes stale the task is handed out again.
	s.store.now = func() time.Time { return time.Now().Add(staleClaimAfter + time.Second) }

	reclaimed, err := s.store.Claim(s.ctx, 10)
	s.Require().NoError(err)
	s.Require().Len(reclaimed, 1)
	s.Equal("/a", reclaimed[0].CanonicalPath)
}

// A target that cancels the drain's context mid-propagation, the shape of a
// shutdown signal arriving while a batch is in flight.
type cancellingTarget struct {
	cancel context.CancelFunc
}

func (t *cancellingTarget) Propagate(ctx context.Context, item *Item) (Outcome, error) {
	t.cancel()
	return "", ctx.Err()
}

func (s *EngineSuite) TestShutdownMidDrainReturnsTaskToPending() {
	s.enqueue("/a", `{"v":1}`)

	ctx, cancel := context.WithCancel(context.Background())
	engine := NewEngine(s.store, &cancellingTarget{cancel: cancel}, nil, slog.Default())

	report, err := engine.Drain(ctx, 10)
	s.Require().NoError(err)
	s.Equal(1, report.Failed)

	// The task went back to pending despite the cancelled context and the
	// next drain picks it up.
	pending, err := s.store.PendingCount(context.Background())
	s.Require().NoError(err)
	s.Equal(1, pending)

	retry, err := s.engine.Drain(context.Background(), 10)
	s.Require().NoError(err)
	s.Equal(1, retry.Succeeded)
}

// fakeSignatureCheck answers verification with a canned result and records
// the envelopes it saw.
type fakeSignatureCheck struct {
	result verifier.Result
	err    error
	seen   []*verifier.Envelope
}

func (f *fakeSignatureCheck) VerifyWriteSignature(ctx context.Context, env *verifier.Envelope) (verifier.Result, error) {
	f.seen = append(f.seen, env)
	return f.result, f.err
}

func (s *EngineSuite) verifyingEngine(check EnvelopeVerifier) *Engine {
	return NewEngine(s.store, s.target, check, slog.Default())
}

func (s *EngineSuite) TestVerifiedEnvelopePropagates() {
	check := &fakeSignatureCheck{result: verifier.Result{OK: true}}
	engine := s.verifyingEngine(check)

	content := `{"operation":"upsert","domain":"docs","canonicalPath":"/a","contentPayload":{"v":1}}`
	s.Require().NoError(engine.Enqueue(s.ctx, "evt-1", "upsert", "docs", "/a", json.RawMessage(content)))

	report, err := engine.Drain(s.ctx, 10)
	s.Require().NoError(err)
	s.Equal(1, report.Succeeded)

	s.Require().Len(check.seen, 1)
	s.Equal("/a", check.seen[0].CanonicalPath)
}

func (s *EngineSuite) TestRejectedSignatureBlocksPropagation() {
	check := &fakeSignatureCheck{result: verifier.Result{OK: false, Reason: "signer not registered"}}
	engine := s.verifyingEngine(check)

	s.Require().NoError(engine.Enqueue(s.ctx, "evt-1", "upsert", "docs", "/a", json.RawMessage(`{"v":1}`)))

	report, err := engine.Drain(s.ctx, 10)
	s.Require().NoError(err)
	s.Equal(1, report.Failed)

	// Nothing reached the target and the task stays pending for operator
	// intervention, never silently dropped.
	s.Equal(0, s.target.calls)
	pending, err := s.store.PendingCount(s.ctx)
	s.Require().NoError(err)
	s.Equal(1, pending)
}

func (s *EngineSuite) TestNonEnvelopeContentRejectedWhenVerifying() {
	check := &fakeSignatureCheck{result: verifier.Result{OK: true}}
	engine := s.verifyingEngine(check)

	s.Require().NoError(engine.Enqueue(s.ctx, "evt-1", "upsert", "docs", "/a", json.RawMessage(`[1,2,3]`)))

	report, err := engine.Drain(s.ctx, 10)
	s.Require().NoError(err)
	s.Equal(1, report.Failed)
	s.Empty(check.seen)
	s.Equal(0, s.target.calls)
}

type memoryDocs struct {
	docs []*Document
}

func (m *memoryDocs) ListCurrent(ctx context.Context, domain string, limit int) ([]*Document, error) {
	var out []*Document
	for _, d := range m.docs {
		if domain != "" && d.Domain != domain {
			continue
		}
		out = append(out, d)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (s *EngineSuite) backfillDocs() *memoryDocs {
	now := time.Now()
	return &memoryDocs{docs: []*Document{
		{Domain: "docs", CanonicalPath: "/a", EventID: "e1", Content: json.RawMessage(`{"v":1}`), UpdatedAt: now},
		{Domain: "docs", CanonicalPath: "/b", EventID: "e2", Content: json.RawMessage(`{"v":2}`), UpdatedAt: now},
		{Domain: "wiki", CanonicalPath: "/c", EventID: "e3", Content: json.RawMessage(`{"v":3}`), UpdatedAt: now},
	}}
}

func (s *EngineSuite) TestBackfillSyncsEverything() {
	report, err := s.engine.Backfill(s.ctx, s.backfillDocs(), BackfillOptions{})
	s.Require().NoError(err)
	s.Equal(3, report.Queued)
	s.Equal(3, report.Synced)
	s.Equal(0, report.Failed)
}

func (s *EngineSuite) TestBackfillDomainFilterAndLimit() {
	report, err := s.engine.Backfill(s.ctx, s.backfillDocs(), BackfillOptions{Domain: "docs", Limit: 1})
	s.Require().NoError(err)
	s.Equal(1, report.Queued)
	s.Equal(1, report.Synced)
}

func (s *EngineSuite) TestBackfillDryRunTouchesNothing() {
	report, err := s.engine.Backfill(s.ctx, s.backfillDocs(), BackfillOptions{DryRun: true})
	s.Require().NoError(err)
	s.Equal(3, report.Queued)
	s.Equal(0, report.Synced)
	s.Equal(0, s.target.calls)

	pending, err := s.store.PendingCount(s.ctx)
	s.Require().NoError(err)
	s.Equal(0, pending)
}

func (s *EngineSuite) TestBackfillReportsPartialFailures() {
	s.target.failing = true
	report, err := s.engine.Backfill(s.ctx, s.backfillDocs(), BackfillOptions{})
	s.Require().NoError(err)
	s.Equal(3, report.Queued)
	s.Equal(0, report.Synced)
	s.Equal(3, report.Failed)
}
