// Copyright 2026 Kaizen Studio
// SPDX-License-Identifier: BUSL-1.1

package invocation

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"kaizenstudio/platform/approval"
	"kaizenstudio/platform/budget"
	"kaizenstudio/platform/shared/keystore"
	"kaizenstudio/platform/shared/logger"
	"kaizenstudio/platform/shared/principal"
)

// defaultCostPerKB prices a request by size when the agent has no
// configured per-call base cost.
const defaultCostPerKB = 0.0001

// terminalWriteTimeout bounds the finalize/usage/lineage writes after
// dispatch; they run detached from the request context so a hung-up
// caller cannot lose the terminal record.
const terminalWriteTimeout = 2 * time.Second

// notifyTimeout covers the full webhook retry schedule.
const notifyTimeout = 2 * time.Minute

// Notifier fans a terminal invocation out to subscribed consumers.
// Implementations are best-effort and must not block the pipeline.
type Notifier interface {
	DeliverInvocation(ctx context.Context, agent *ExternalAgent, inv *Invocation)
}

// NopNotifier discards every event.
type NopNotifier struct{}

func (NopNotifier) DeliverInvocation(context.Context, *ExternalAgent, *Invocation) {}

// Service runs the invocation enforcement pipeline and owns the
// external-agent lifecycle.
type Service struct {
	repo       Repository
	limiter    *Limiter
	budgets    *budget.Service
	approvals  *approval.Service
	dispatcher *Dispatcher
	keys       *keystore.Keystore
	notifier   Notifier
	log        *logger.Logger
}

// NewService creates an invocation service.
func NewService(repo Repository, limiter *Limiter, budgets *budget.Service,
	approvals *approval.Service, dispatcher *Dispatcher, keys *keystore.Keystore,
	notifier Notifier, log *logger.Logger) *Service {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	return &Service{
		repo:       repo,
		limiter:    limiter,
		budgets:    budgets,
		approvals:  approvals,
		dispatcher: dispatcher,
		keys:       keys,
		notifier:   notifier,
		log:        log,
	}
}

// AgentInput carries the writable agent fields. Credentials arrive in
// plaintext and are encrypted before persistence.
type AgentInput struct {
	Name           string          `json:"name"`
	WorkspaceID    string          `json:"workspace_id"`
	Platform       string          `json:"platform"`
	AuthType       string          `json:"auth_type"`
	Credentials    json.RawMessage `json:"credentials,omitempty"`
	PlatformConfig json.RawMessage `json:"platform_config,omitempty"`
	WebhookURL     string          `json:"webhook_url"`
	EndpointURL    string          `json:"endpoint_url"`

	BudgetLimitDaily   *float64 `json:"budget_limit_daily"`
	BudgetLimitMonthly *float64 `json:"budget_limit_monthly"`
	RateLimitPerMinute *int     `json:"rate_limit_per_minute"`
	RateLimitPerHour   *int     `json:"rate_limit_per_hour"`
	RateLimitPerDay    *int     `json:"rate_limit_per_day"`

	RequireApproval       bool     `json:"require_approval"`
	ApprovalCostThreshold *float64 `json:"approval_cost_threshold"`
	BaseCostPerInvocation float64  `json:"base_cost_per_invocation"`
}

func (in *AgentInput) validate() error {
	if !ValidPlatform(in.Platform) {
		return ErrInvalidPlatform
	}
	switch in.AuthType {
	case "", AuthNone, AuthBearer, AuthAPIKey, AuthBasic:
	default:
		return ErrInvalidAuthType
	}
	return nil
}

// CreateAgent registers a new external agent. When a daily or monthly
// budget cap is set, a matching budget is created so the enforcement
// pipeline picks it up.
func (s *Service) CreateAgent(ctx context.Context, orgID string, in AgentInput) (*ExternalAgent, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	a := &ExternalAgent{
		ID:          uuid.NewString(),
		OrgID:       orgID,
		WorkspaceID: in.WorkspaceID,
		Name:        in.Name,
		Platform:    in.Platform,
		AuthType:    in.AuthType,

		PlatformConfig: in.PlatformConfig,
		WebhookURL:     in.WebhookURL,
		EndpointURL:    in.EndpointURL,

		BudgetLimitDaily:   Unlimited,
		BudgetLimitMonthly: Unlimited,
		RateLimitPerMinute: Unlimited,
		RateLimitPerHour:   Unlimited,
		RateLimitPerDay:    Unlimited,

		RequireApproval:       in.RequireApproval,
		ApprovalCostThreshold: Unlimited,
		BaseCostPerInvocation: in.BaseCostPerInvocation,

		Status:    AgentActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if a.AuthType == "" {
		a.AuthType = AuthNone
	}
	applyAgentOverrides(a, in)

	if len(in.Credentials) > 0 {
		encrypted, err := s.keys.EncryptCredential(string(in.Credentials))
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt credentials: %w", err)
		}
		a.EncryptedCredentials = encrypted
	}

	if err := s.repo.CreateAgent(ctx, a); err != nil {
		return nil, err
	}
	s.syncBudget(ctx, a)
	return a, nil
}

func applyAgentOverrides(a *ExternalAgent, in AgentInput) {
	if in.BudgetLimitDaily != nil {
		a.BudgetLimitDaily = *in.BudgetLimitDaily
	}
	if in.BudgetLimitMonthly != nil {
		a.BudgetLimitMonthly = *in.BudgetLimitMonthly
	}
	if in.RateLimitPerMinute != nil {
		a.RateLimitPerMinute = *in.RateLimitPerMinute
	}
	if in.RateLimitPerHour != nil {
		a.RateLimitPerHour = *in.RateLimitPerHour
	}
	if in.RateLimitPerDay != nil {
		a.RateLimitPerDay = *in.RateLimitPerDay
	}
	if in.ApprovalCostThreshold != nil {
		a.ApprovalCostThreshold = *in.ApprovalCostThreshold
	}
}

// syncBudget mirrors the agent-level caps into the budget store. The
// daily cap wins when both are set; the budget row is the enforcement
// source of truth.
func (s *Service) syncBudget(ctx context.Context, a *ExternalAgent) {
	period := ""
	limit := 0.0
	switch {
	case a.BudgetLimitDaily != Unlimited:
		period, limit = budget.PeriodDaily, a.BudgetLimitDaily
	case a.BudgetLimitMonthly != Unlimited:
		period, limit = budget.PeriodMonthly, a.BudgetLimitMonthly
	default:
		return
	}
	_, err := s.budgets.Upsert(ctx, a.OrgID, a.ID, budget.UpsertInput{
		Period:           period,
		MaxCostPerPeriod: &limit,
		EnforcementMode:  budget.EnforcementHard,
		BaseCost:         a.BaseCostPerInvocation,
	})
	if err != nil {
		s.log.Warn(a.OrgID, "", "failed to sync agent budget",
			map[string]interface{}{"external_agent_id": a.ID, "error": err.Error()})
	}
}

// GetAgent returns one agent.
func (s *Service) GetAgent(ctx context.Context, orgID, id string) (*ExternalAgent, error) {
	return s.repo.GetAgent(ctx, orgID, id)
}

// ListAgents returns the org's agents.
func (s *Service) ListAgents(ctx context.Context, orgID string) ([]ExternalAgent, error) {
	return s.repo.ListAgents(ctx, orgID)
}

// UpdateAgent replaces the writable fields of an agent.
func (s *Service) UpdateAgent(ctx context.Context, orgID, id string, in AgentInput) (*ExternalAgent, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	a, err := s.repo.GetAgent(ctx, orgID, id)
	if err != nil {
		return nil, err
	}

	a.Name = in.Name
	a.Platform = in.Platform
	if in.AuthType != "" {
		a.AuthType = in.AuthType
	}
	a.PlatformConfig = in.PlatformConfig
	a.WebhookURL = in.WebhookURL
	a.EndpointURL = in.EndpointURL
	a.RequireApproval = in.RequireApproval
	a.BaseCostPerInvocation = in.BaseCostPerInvocation
	applyAgentOverrides(a, in)

	if len(in.Credentials) > 0 {
		encrypted, err := s.keys.EncryptCredential(string(in.Credentials))
		if err != nil {
			return nil, fmt.Errorf("failed to encrypt credentials: %w", err)
		}
		a.EncryptedCredentials = encrypted
	}

	a.UpdatedAt = time.Now().UTC()
	if err := s.repo.UpdateAgent(ctx, a); err != nil {
		return nil, err
	}
	s.syncBudget(ctx, a)
	return a, nil
}

// DeleteAgent soft-deletes an agent.
func (s *Service) DeleteAgent(ctx context.Context, orgID, id string) error {
	return s.repo.SoftDeleteAgent(ctx, orgID, id)
}

// GetInvocation returns one invocation row.
func (s *Service) GetInvocation(ctx context.Context, orgID, id string) (*Invocation, error) {
	return s.repo.GetInvocation(ctx, orgID, id)
}

// ListInvocations returns recent invocations for an agent.
func (s *Service) ListInvocations(ctx context.Context, orgID, agentID string, limit int) ([]Invocation, error) {
	return s.repo.ListInvocations(ctx, orgID, agentID, limit)
}

// GetLineage returns the lineage row of an invocation.
func (s *Service) GetLineage(ctx context.Context, orgID, invocationID string) (*Lineage, error) {
	return s.repo.GetLineage(ctx, orgID, invocationID)
}

// InvokeInput carries everything the pipeline needs for one attempt.
type InvokeInput struct {
	AgentID    string
	Caller     *principal.Principal
	External   *principal.ExternalIdentity
	Payload    json.RawMessage
	RequestIP  string
	UserAgent  string
	ApprovalID string
}

// InvokeOutcome is the pipeline result. Exactly one of Invocation or
// PendingApproval is set on success; PendingApproval means the caller
// must re-invoke with the approval id once it is approved.
type InvokeOutcome struct {
	Invocation      *Invocation
	PendingApproval *approval.Request
	BudgetWarning   bool
}

// Invoke runs the enforcement pipeline: rate limit, budget pre-check,
// approval gate, pending row, upstream dispatch, terminal update, usage
// record, lineage write, webhook fan-out. Usage and lineage are written
// even when the upstream call fails.
func (s *Service) Invoke(ctx context.Context, orgID string, in InvokeInput) (*InvokeOutcome, error) {
	agent, err := s.repo.GetAgent(ctx, orgID, in.AgentID)
	if err != nil {
		return nil, err
	}
	if agent.Status != AgentActive {
		return nil, ErrAgentInactive
	}

	// Rate limit per (agent, caller) over minute/hour/day windows.
	// Fails closed on counter-service errors.
	limit, err := s.limiter.Check(ctx, agent.ID, in.Caller.Key(), agent)
	if err != nil {
		s.log.Error(orgID, "", "invocation rate check failed, denying",
			map[string]interface{}{"external_agent_id": agent.ID, "error": err.Error()})
		return nil, ErrRateLimited
	}
	if !limit.Allowed {
		return nil, fmt.Errorf("%w: %s window (limit %d)", ErrRateLimited, limit.Window, limit.Limit)
	}

	// Budget pre-check with the estimated cost.
	estimated := agent.BaseCostPerInvocation
	if estimated <= 0 {
		estimated = float64(len(in.Payload)) / 1024 * defaultCostPerKB
	}
	check, err := s.budgets.CheckBudget(ctx, orgID, agent.ID, estimated, 0)
	if err != nil {
		return nil, fmt.Errorf("budget check failed: %w", err)
	}
	if !check.Allowed {
		return nil, fmt.Errorf("%w: %s", ErrBudgetExceeded, check.Reason)
	}

	// Approval gate.
	approvalID, approvalStatus := "", ""
	if s.approvalTriggered(agent, estimated) {
		if in.ApprovalID == "" {
			req, err := s.approvals.Create(ctx, orgID, approval.CreateInput{
				ExternalAgentID: agent.ID,
				RequestedBy:     in.Caller.UserID,
				Trigger:         approvalTrigger(agent),
				Reason:          fmt.Sprintf("estimated cost %.4f USD", estimated),
				EstimatedCost:   estimated,
				RequestPayload:  in.Payload,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to open approval request: %w", err)
			}
			return &InvokeOutcome{PendingApproval: req}, nil
		}
		req, err := s.approvals.Consume(ctx, orgID, in.ApprovalID, in.Caller.UserID)
		if err != nil {
			return nil, err
		}
		approvalID, approvalStatus = req.ID, req.Status
	}

	// Pending row before the upstream call so a crash still leaves a record.
	now := time.Now().UTC()
	inv := &Invocation{
		ID:              uuid.NewString(),
		OrgID:           orgID,
		ExternalAgentID: agent.ID,
		UserID:          in.Caller.UserID,
		APIKeyID:        in.Caller.APIKeyID,

		RequestPayload:   Sanitize(in.Payload),
		RequestIP:        in.RequestIP,
		RequestUserAgent: in.UserAgent,

		AuthPassed:      true,
		BudgetPassed:    true,
		RateLimitPassed: true,

		Status:                InvocationPending,
		TraceID:               traceID(in.External),
		ApprovalID:            approvalID,
		WebhookDeliveryStatus: DeliveryPending,
		InvokedAt:             now,
	}
	if err := s.repo.CreateInvocation(ctx, inv); err != nil {
		return nil, err
	}

	// Upstream dispatch.
	result, dispatchErr := s.dispatcher.Dispatch(ctx, agent, in.Payload)

	completed := time.Now().UTC()
	inv.CompletedAt = &completed
	if dispatchErr != nil {
		inv.Status = InvocationFailed
		inv.ErrorMessage = dispatchErr.Error()
		inv.ExecutionTimeMS = completed.Sub(now).Milliseconds()
	} else {
		inv.ResponseStatusCode = result.StatusCode
		inv.ResponsePayload = Sanitize(result.Body)
		inv.ExecutionTimeMS = result.Duration.Milliseconds()
		if result.StatusCode >= 200 && result.StatusCode < 300 {
			inv.Status = InvocationSuccess
		} else {
			inv.Status = InvocationFailed
			inv.ErrorMessage = fmt.Sprintf("upstream returned %d", result.StatusCode)
		}
	}
	observeExecution(inv)

	// Terminal state, usage, and lineage must land even when the caller
	// hangs up mid-request, so they get their own deadline.
	recordCtx, cancel := context.WithTimeout(context.Background(), terminalWriteTimeout)
	defer cancel()
	if err := s.repo.CompleteInvocation(recordCtx, inv); err != nil {
		s.log.Error(orgID, "", "failed to finalize invocation row",
			map[string]interface{}{"invocation_id": inv.ID, "error": err.Error()})
	}

	// Usage and lineage are written for every terminal status.
	s.recordUsage(recordCtx, agent, inv, estimated)
	s.writeLineage(recordCtx, agent, inv, in, check, estimated, approvalID, approvalStatus)

	// Webhook fan-out is best-effort and never delays the response; the
	// dispatcher's retry schedule runs on its own deadline.
	go func(agent *ExternalAgent, inv *Invocation) {
		notifyCtx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		s.notifier.DeliverInvocation(notifyCtx, agent, inv)
	}(agent, inv)

	outcome := &InvokeOutcome{Invocation: inv, BudgetWarning: check.Warning}
	if dispatchErr != nil {
		return outcome, dispatchErr
	}
	return outcome, nil
}

func (s *Service) approvalTriggered(agent *ExternalAgent, estimated float64) bool {
	if agent.RequireApproval {
		return true
	}
	return agent.ApprovalCostThreshold != Unlimited &&
		agent.ApprovalCostThreshold >= 0 &&
		estimated > agent.ApprovalCostThreshold
}

func approvalTrigger(agent *ExternalAgent) string {
	if agent.RequireApproval {
		return approval.TriggerAgentFlag
	}
	return approval.TriggerCostThreshold
}

func (s *Service) recordUsage(ctx context.Context, agent *ExternalAgent, inv *Invocation, cost float64) {
	err := s.budgets.RecordUsage(ctx, &budget.UsageRecord{
		OrgID:           inv.OrgID,
		ExternalAgentID: agent.ID,
		InvocationID:    inv.ID,
		ResourceType:    "external_agent_invocation",
		Quantity:        1,
		Unit:            "invocation",
		UnitCost:        cost,
		TotalCost:       cost,
	})
	if err != nil {
		s.log.Error(inv.OrgID, "", "failed to record usage",
			map[string]interface{}{"invocation_id": inv.ID, "error": err.Error()})
	}
}

func (s *Service) writeLineage(ctx context.Context, agent *ExternalAgent, inv *Invocation,
	in InvokeInput, check *budget.CheckResult, cost float64, approvalID, approvalStatus string) {

	l := &Lineage{
		ID:     inv.ID,
		OrgID:  inv.OrgID,
		UserID: inv.UserID,

		APIKeyID:        inv.APIKeyID,
		ExternalAgentID: agent.ID,
		Endpoint:        agent.EndpointURL,
		TraceID:         inv.TraceID,
		SpanID:          uuid.NewString(),

		RequestSnapshot:  inv.RequestPayload,
		ResponseSnapshot: inv.ResponsePayload,
		CostUSD:          cost,
		Status:           inv.Status,

		BudgetBefore:  check.CurrentCost,
		BudgetAfter:   check.CurrentCost + cost,
		BudgetWarning: check.Warning,

		ApprovalID:     approvalID,
		ApprovalStatus: approvalStatus,
		CreatedAt:      time.Now().UTC(),
	}
	if in.External != nil {
		l.ExternalUserID = in.External.UserID
		l.ExternalUserEmail = in.External.UserEmail
		l.ExternalUserName = in.External.UserName
		l.ExternalSystem = in.External.System
		l.ExternalSessionID = in.External.SessionID
		l.ExternalTraceID = in.External.TraceID
	}

	if err := s.repo.CreateLineage(ctx, l); err != nil {
		s.log.Error(inv.OrgID, "", "failed to write lineage",
			map[string]interface{}{"invocation_id": inv.ID, "error": err.Error()})
	}
}

func traceID(ext *principal.ExternalIdentity) string {
	if ext != nil && ext.TraceID != "" {
		return ext.TraceID
	}
	return uuid.NewString()
}
