// Copyright 2026 Kaizen Studio
// SPDX-License-Identifier: BUSL-1.1

package invocation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kaizenstudio/platform/approval"
	"kaizenstudio/platform/budget"
	"kaizenstudio/platform/rbac"
	"kaizenstudio/platform/shared/keystore"
	"kaizenstudio/platform/shared/logger"
	"kaizenstudio/platform/shared/principal"
)

// memRepo is an in-memory invocation Repository.
type memRepo struct {
	mu          sync.Mutex
	agents      map[string]*ExternalAgent
	invocations map[string]*Invocation
	lineage     map[string]*Lineage
}

func newMemRepo() *memRepo {
	return &memRepo{
		agents:      make(map[string]*ExternalAgent),
		invocations: make(map[string]*Invocation),
		lineage:     make(map[string]*Lineage),
	}
}

func (m *memRepo) CreateAgent(_ context.Context, a *ExternalAgent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *a
	m.agents[a.ID] = &cp
	return nil
}

func (m *memRepo) GetAgent(_ context.Context, orgID, id string) (*ExternalAgent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok || a.OrgID != orgID || a.Status == AgentDeleted {
		return nil, ErrAgentNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memRepo) ListAgents(_ context.Context, orgID string) ([]ExternalAgent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ExternalAgent
	for _, a := range m.agents {
		if a.OrgID == orgID && a.Status != AgentDeleted {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *memRepo) UpdateAgent(_ context.Context, a *ExternalAgent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.agents[a.ID]; !ok {
		return ErrAgentNotFound
	}
	cp := *a
	m.agents[a.ID] = &cp
	return nil
}

func (m *memRepo) SoftDeleteAgent(_ context.Context, orgID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok || a.OrgID != orgID {
		return ErrAgentNotFound
	}
	a.Status = AgentDeleted
	return nil
}

func (m *memRepo) CreateInvocation(_ context.Context, inv *Invocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *inv
	m.invocations[inv.ID] = &cp
	return nil
}

func (m *memRepo) CompleteInvocation(_ context.Context, inv *Invocation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.invocations[inv.ID]
	if !ok || existing.Status != InvocationPending {
		return ErrInvocationNotFound
	}
	cp := *inv
	m.invocations[inv.ID] = &cp
	return nil
}

func (m *memRepo) GetInvocation(_ context.Context, orgID, id string) (*Invocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inv, ok := m.invocations[id]
	if !ok || inv.OrgID != orgID {
		return nil, ErrInvocationNotFound
	}
	cp := *inv
	return &cp, nil
}

func (m *memRepo) ListInvocations(_ context.Context, orgID, agentID string, _ int) ([]Invocation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Invocation
	for _, inv := range m.invocations {
		if inv.OrgID == orgID && inv.ExternalAgentID == agentID {
			out = append(out, *inv)
		}
	}
	return out, nil
}

func (m *memRepo) UpdateDeliveryStatus(_ context.Context, invocationID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inv, ok := m.invocations[invocationID]; ok {
		inv.WebhookDeliveryStatus = status
	}
	return nil
}

func (m *memRepo) CreateLineage(_ context.Context, l *Lineage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *l
	m.lineage[l.ID] = &cp
	return nil
}

func (m *memRepo) GetLineage(_ context.Context, orgID, invocationID string) (*Lineage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lineage[invocationID]
	if !ok || l.OrgID != orgID {
		return nil, ErrInvocationNotFound
	}
	cp := *l
	return &cp, nil
}

// budgetMemRepo is a minimal in-memory budget.Repository.
type budgetMemRepo struct {
	mu      sync.Mutex
	budgets map[string]*budget.Budget
	records []budget.UsageRecord
}

func newBudgetMemRepo() *budgetMemRepo {
	return &budgetMemRepo{budgets: make(map[string]*budget.Budget)}
}

func (m *budgetMemRepo) CreateBudget(_ context.Context, b *budget.Budget) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.budgets[b.ExternalAgentID] = b
	return nil
}

func (m *budgetMemRepo) GetBudgetByAgent(_ context.Context, _, agentID string) (*budget.Budget, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.budgets[agentID]
	if !ok {
		return nil, budget.ErrBudgetNotFound
	}
	return b, nil
}

func (m *budgetMemRepo) UpdateBudget(_ context.Context, b *budget.Budget) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.budgets[b.ExternalAgentID] = b
	return nil
}

func (m *budgetMemRepo) DeleteBudget(_ context.Context, _, agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.budgets, agentID)
	return nil
}

func (m *budgetMemRepo) RecordUsage(_ context.Context, rec *budget.UsageRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, *rec)
	return nil
}

func (m *budgetMemRepo) AggregateUsage(_ context.Context, agentID string, start, end time.Time) (*budget.Usage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var u budget.Usage
	for _, rec := range m.records {
		if rec.ExternalAgentID == agentID && !rec.RecordedAt.Before(start) && rec.RecordedAt.Before(end) {
			u.Cost += rec.TotalCost
			u.Invocations++
		}
	}
	return &u, nil
}

func (m *budgetMemRepo) ListUsage(_ context.Context, _, _ string, _, _ time.Time, _ int) ([]budget.UsageRecord, error) {
	return nil, nil
}

func (m *budgetMemRepo) CreateAlert(_ context.Context, _ *budget.Alert) error { return nil }

func (m *budgetMemRepo) HasAlert(_ context.Context, _ string, _ float64, _ time.Time) (bool, error) {
	return true, nil
}

func (m *budgetMemRepo) ListAlerts(_ context.Context, _ string, _ bool) ([]budget.Alert, error) {
	return nil, nil
}

func (m *budgetMemRepo) AcknowledgeAlert(_ context.Context, _, _ string) error { return nil }

// approvalMemRepo is a minimal in-memory approval.Repository.
type approvalMemRepo struct {
	mu       sync.Mutex
	requests map[string]*approval.Request
}

func newApprovalMemRepo() *approvalMemRepo {
	return &approvalMemRepo{requests: make(map[string]*approval.Request)}
}

func (m *approvalMemRepo) CreateRequest(_ context.Context, req *approval.Request) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *req
	m.requests[req.ID] = &cp
	return nil
}

func (m *approvalMemRepo) GetRequest(_ context.Context, orgID, id string) (*approval.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok || req.OrgID != orgID {
		return nil, approval.ErrApprovalNotFound
	}
	cp := *req
	return &cp, nil
}

func (m *approvalMemRepo) ListRequests(_ context.Context, _, _ string, _ int) ([]approval.Request, error) {
	return nil, nil
}

func (m *approvalMemRepo) Decide(_ context.Context, orgID, id, status, decidedBy, note string, decidedAt time.Time) (*approval.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	req, ok := m.requests[id]
	if !ok || req.OrgID != orgID {
		return nil, approval.ErrApprovalNotFound
	}
	if req.Status != approval.StatusPending {
		return nil, approval.ErrAlreadyDecided
	}
	req.Status = status
	req.DecidedBy = decidedBy
	req.DecisionNote = note
	req.DecidedAt = &decidedAt
	cp := *req
	return &cp, nil
}

func (m *approvalMemRepo) ExpirePending(_ context.Context, _ time.Time) (int64, error) {
	return 0, nil
}

type recordingNotifier struct {
	mu    sync.Mutex
	calls int
}

func (n *recordingNotifier) DeliverInvocation(context.Context, *ExternalAgent, *Invocation) {
	n.mu.Lock()
	n.calls++
	n.mu.Unlock()
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls
}

type pipelineFixture struct {
	svc       *Service
	repo      *memRepo
	budgets   *budgetMemRepo
	approvals *approval.Service
	notifier  *recordingNotifier
	keys      *keystore.Keystore
}

func newPipeline(t *testing.T) *pipelineFixture {
	t.Helper()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	keys, err := keystore.New(nil, nil, "secret-key", "credential-key")
	require.NoError(t, err)

	log := logger.New("invocation-test")
	repo := newMemRepo()
	budgetRepo := newBudgetMemRepo()
	approvalRepo := newApprovalMemRepo()
	notifier := &recordingNotifier{}

	budgets := budget.NewService(budgetRepo, log)
	approvals := approval.NewService(approvalRepo, rbac.NewChecker(), nil, log)

	svc := NewService(repo, NewLimiter(rdb), budgets, approvals,
		NewDispatcher(keys), keys, notifier, log)

	return &pipelineFixture{
		svc: svc, repo: repo, budgets: budgetRepo,
		approvals: approvals, notifier: notifier, keys: keys,
	}
}

func seedAgent(f *pipelineFixture, endpoint string, mutate func(*ExternalAgent)) *ExternalAgent {
	a := &ExternalAgent{
		ID: "agent-1", OrgID: "org-1", Name: "reporting-bot",
		Platform: PlatformCustomHTTP, AuthType: AuthNone,
		EndpointURL:           endpoint,
		BudgetLimitDaily:      Unlimited,
		BudgetLimitMonthly:    Unlimited,
		RateLimitPerMinute:    Unlimited,
		RateLimitPerHour:      Unlimited,
		RateLimitPerDay:       Unlimited,
		ApprovalCostThreshold: Unlimited,
		Status:                AgentActive,
	}
	if mutate != nil {
		mutate(a)
	}
	f.repo.agents[a.ID] = a
	return a
}

func caller() *principal.Principal {
	return &principal.Principal{UserID: "user-1", OrgID: "org-1", Role: rbac.RoleDeveloper}
}

func TestInvokeHappyPath(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"reply": "done"}`))
	}))
	defer upstream.Close()

	f := newPipeline(t)
	seedAgent(f, upstream.URL, nil)

	outcome, err := f.svc.Invoke(context.Background(), "org-1", InvokeInput{
		AgentID: "agent-1",
		Caller:  caller(),
		Payload: json.RawMessage(`{"message": "hi"}`),
	})
	require.NoError(t, err)
	require.NotNil(t, outcome.Invocation)

	inv := outcome.Invocation
	assert.Equal(t, InvocationSuccess, inv.Status)
	assert.Equal(t, http.StatusOK, inv.ResponseStatusCode)
	assert.True(t, inv.AuthPassed)
	assert.True(t, inv.BudgetPassed)
	assert.True(t, inv.RateLimitPassed)
	assert.NotNil(t, inv.CompletedAt)

	// Usage and lineage written.
	assert.Len(t, f.budgets.records, 1)
	l, err := f.repo.GetLineage(context.Background(), "org-1", inv.ID)
	require.NoError(t, err)
	assert.Equal(t, inv.ID, l.ID)
	assert.Equal(t, InvocationSuccess, l.Status)

	// Fan-out is asynchronous.
	require.Eventually(t, func() bool { return f.notifier.count() == 1 },
		time.Second, 10*time.Millisecond)
}

func TestInvokeUpstreamFailureStillRecordsUsageAndLineage(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer upstream.Close()

	f := newPipeline(t)
	seedAgent(f, upstream.URL, nil)

	outcome, err := f.svc.Invoke(context.Background(), "org-1", InvokeInput{
		AgentID: "agent-1",
		Caller:  caller(),
		Payload: json.RawMessage(`{}`),
	})
	require.NoError(t, err)
	require.NotNil(t, outcome.Invocation)
	assert.Equal(t, InvocationFailed, outcome.Invocation.Status)

	assert.Len(t, f.budgets.records, 1)
	_, err = f.repo.GetLineage(context.Background(), "org-1", outcome.Invocation.ID)
	assert.NoError(t, err)
}

func TestInvokeBudgetExceededHardMode(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	f := newPipeline(t)
	seedAgent(f, upstream.URL, func(a *ExternalAgent) {
		a.BaseCostPerInvocation = 0.01
	})
	f.budgets.budgets["agent-1"] = &budget.Budget{
		ID: "b-1", OrgID: "org-1", ExternalAgentID: "agent-1",
		Period:                  budget.PeriodDaily,
		MaxCostPerPeriod:        0.02,
		MaxTokensPerPeriod:      budget.Unlimited,
		MaxInvocationsPerPeriod: budget.Unlimited,
		EnforcementMode:         budget.EnforcementHard,
	}

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := f.svc.Invoke(ctx, "org-1", InvokeInput{
			AgentID: "agent-1", Caller: caller(), Payload: json.RawMessage(`{}`),
		})
		require.NoError(t, err, "call %d", i+1)
	}

	_, err := f.svc.Invoke(ctx, "org-1", InvokeInput{
		AgentID: "agent-1", Caller: caller(), Payload: json.RawMessage(`{}`),
	})
	assert.ErrorIs(t, err, ErrBudgetExceeded)
}

func TestInvokeRateLimited(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	f := newPipeline(t)
	seedAgent(f, upstream.URL, func(a *ExternalAgent) {
		a.RateLimitPerMinute = 1
	})

	ctx := context.Background()
	_, err := f.svc.Invoke(ctx, "org-1", InvokeInput{
		AgentID: "agent-1", Caller: caller(), Payload: json.RawMessage(`{}`),
	})
	require.NoError(t, err)

	_, err = f.svc.Invoke(ctx, "org-1", InvokeInput{
		AgentID: "agent-1", Caller: caller(), Payload: json.RawMessage(`{}`),
	})
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestInvokeApprovalRoundTrip(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	f := newPipeline(t)
	seedAgent(f, upstream.URL, func(a *ExternalAgent) {
		a.RequireApproval = true
	})

	ctx := context.Background()
	outcome, err := f.svc.Invoke(ctx, "org-1", InvokeInput{
		AgentID: "agent-1", Caller: caller(), Payload: json.RawMessage(`{"q": 1}`),
	})
	require.NoError(t, err)
	require.NotNil(t, outcome.PendingApproval)
	assert.Nil(t, outcome.Invocation)
	assert.Equal(t, approval.StatusPending, outcome.PendingApproval.Status)

	// Replaying with a still-pending approval id is refused.
	_, err = f.svc.Invoke(ctx, "org-1", InvokeInput{
		AgentID: "agent-1", Caller: caller(),
		Payload: json.RawMessage(`{"q": 1}`), ApprovalID: outcome.PendingApproval.ID,
	})
	assert.ErrorIs(t, err, approval.ErrNotApproved)

	_, err = f.approvals.Approve(ctx, "org-1", outcome.PendingApproval.ID, "user-admin", rbac.RoleOrgAdmin, "ok")
	require.NoError(t, err)

	final, err := f.svc.Invoke(ctx, "org-1", InvokeInput{
		AgentID: "agent-1", Caller: caller(),
		Payload: json.RawMessage(`{"q": 1}`), ApprovalID: outcome.PendingApproval.ID,
	})
	require.NoError(t, err)
	require.NotNil(t, final.Invocation)
	assert.Equal(t, InvocationSuccess, final.Invocation.Status)
	assert.Equal(t, outcome.PendingApproval.ID, final.Invocation.ApprovalID)
}

func TestInvokeInactiveAgent(t *testing.T) {
	f := newPipeline(t)
	seedAgent(f, "http://unused", func(a *ExternalAgent) {
		a.Status = AgentInactive
	})

	_, err := f.svc.Invoke(context.Background(), "org-1", InvokeInput{
		AgentID: "agent-1", Caller: caller(), Payload: json.RawMessage(`{}`),
	})
	assert.ErrorIs(t, err, ErrAgentInactive)
}

// blockingNotifier parks inside DeliverInvocation until released, so a
// test can prove the pipeline returns while delivery is still running.
type blockingNotifier struct {
	entered chan struct{}
	release chan struct{}
}

func (n *blockingNotifier) DeliverInvocation(context.Context, *ExternalAgent, *Invocation) {
	close(n.entered)
	<-n.release
}

func TestInvokeReturnsBeforeWebhookDelivery(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	f := newPipeline(t)
	notifier := &blockingNotifier{
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	f.svc.notifier = notifier
	seedAgent(f, upstream.URL, nil)

	outcome, err := f.svc.Invoke(context.Background(), "org-1", InvokeInput{
		AgentID: "agent-1", Caller: caller(), Payload: json.RawMessage(`{}`),
	})
	require.NoError(t, err)
	require.NotNil(t, outcome.Invocation)
	assert.Equal(t, InvocationSuccess, outcome.Invocation.Status)

	// Delivery started but has not finished; Invoke already returned.
	select {
	case <-notifier.entered:
	case <-time.After(time.Second):
		t.Fatal("notifier was never called")
	}
	close(notifier.release)
}

func TestInvokeObservesExecutionMetrics(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	f := newPipeline(t)
	seedAgent(f, upstream.URL, nil)

	before := testutil.ToFloat64(promExecutionsTotal.WithLabelValues(InvocationSuccess))
	_, err := f.svc.Invoke(context.Background(), "org-1", InvokeInput{
		AgentID: "agent-1", Caller: caller(), Payload: json.RawMessage(`{}`),
	})
	require.NoError(t, err)

	after := testutil.ToFloat64(promExecutionsTotal.WithLabelValues(InvocationSuccess))
	assert.Equal(t, before+1, after)
}

// ctxCheckingRepo records the context state the terminal writes run
// under.
type ctxCheckingRepo struct {
	*memRepo
	completeCtxErr error
	lineageCtxErr  error
}

func (r *ctxCheckingRepo) CompleteInvocation(ctx context.Context, inv *Invocation) error {
	r.completeCtxErr = ctx.Err()
	return r.memRepo.CompleteInvocation(ctx, inv)
}

func (r *ctxCheckingRepo) CreateLineage(ctx context.Context, l *Lineage) error {
	r.lineageCtxErr = ctx.Err()
	return r.memRepo.CreateLineage(ctx, l)
}

func TestInvokeTerminalWritesSurviveCallerHangup(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// The caller hangs up while the upstream call is in flight.
		cancel()
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	f := newPipeline(t)
	checking := &ctxCheckingRepo{memRepo: f.repo}
	f.svc.repo = checking
	seedAgent(f, upstream.URL, nil)

	outcome, _ := f.svc.Invoke(ctx, "org-1", InvokeInput{
		AgentID: "agent-1", Caller: caller(), Payload: json.RawMessage(`{}`),
	})
	require.NotNil(t, outcome)
	require.NotNil(t, outcome.Invocation)

	// Terminal writes ran on a live context despite the cancellation.
	assert.NoError(t, checking.completeCtxErr)
	assert.NoError(t, checking.lineageCtxErr)
	assert.NotEqual(t, InvocationPending, outcome.Invocation.Status)
	assert.Len(t, f.budgets.records, 1)

	_, err := f.repo.GetLineage(context.Background(), "org-1", outcome.Invocation.ID)
	assert.NoError(t, err)
}

func TestCreateAgentEncryptsCredentials(t *testing.T) {
	f := newPipeline(t)
	agent, err := f.svc.CreateAgent(context.Background(), "org-1", AgentInput{
		Name:        "slack-bot",
		Platform:    PlatformSlack,
		AuthType:    AuthBearer,
		EndpointURL: "https://slack.example/api",
		Credentials: json.RawMessage(`{"token": "xoxb-secret"}`),
	})
	require.NoError(t, err)
	assert.NotEmpty(t, agent.EncryptedCredentials)
	assert.NotContains(t, agent.EncryptedCredentials, "xoxb-secret")

	plain, err := f.keys.DecryptCredential(agent.EncryptedCredentials)
	require.NoError(t, err)
	assert.Contains(t, plain, "xoxb-secret")
}

func TestCreateAgentRejectsUnknownPlatform(t *testing.T) {
	f := newPipeline(t)
	_, err := f.svc.CreateAgent(context.Background(), "org-1", AgentInput{
		Name: "x", Platform: "irc", EndpointURL: "http://x",
	})
	assert.ErrorIs(t, err, ErrInvalidPlatform)
}
