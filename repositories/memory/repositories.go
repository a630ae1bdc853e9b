package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/upb/staffing-erp/models"
	"github.com/upb/staffing-erp/repositories"
)

type orgRepo struct {
	s *Store
}

func (r *orgRepo) Create(_ context.Context, org *models.Organization) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, o := range r.s.data.orgs {
		if o.Slug == org.Slug {
			return fmt.Errorf("organization slug %q: %w", org.Slug, repositories.ErrDuplicate)
		}
	}
	r.s.data.orgs[org.ID] = *org
	return nil
}

func (r *orgRepo) GetByID(_ context.Context, id uuid.UUID) (*models.Organization, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.data.orgs[id]
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &o, nil
}

type auditRepo struct {
	s   *Store
	org uuid.UUID
}

func (r *auditRepo) Insert(_ context.Context, event *models.AuditEvent) error {
	if event.OrgID == uuid.Nil {
		event.OrgID = r.org
	}
	if event.OrgID != r.org {
		return fmt.Errorf("audit event org %s does not match scope %s", event.OrgID, r.org)
	}
	if event.Target.Type.IsZero() {
		return fmt.Errorf("audit event target type is required")
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	r.s.data.audit = append(r.s.data.audit, *event)
	return nil
}

func (r *auditRepo) GetByID(_ context.Context, id uuid.UUID) (*models.AuditEvent, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for _, e := range r.s.data.audit {
		if e.OrgID == r.org && e.ID == id {
			return &e, nil
		}
	}
	return nil, repositories.ErrNotFound
}

func (r *auditRepo) matching(f models.AuditFilter) []*models.AuditEvent {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*models.AuditEvent
	for i := len(r.s.data.audit) - 1; i >= 0; i-- {
		e := r.s.data.audit[i]
		if e.OrgID != r.org || !auditMatches(e, f) {
			continue
		}
		out = append(out, &e)
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out
}

func auditMatches(e models.AuditEvent, f models.AuditFilter) bool {
	switch {
	case f.ActorID != nil && (e.ActorID == nil || *e.ActorID != *f.ActorID):
		return false
	case f.From != nil && e.CreatedAt.Before(*f.From):
		return false
	case f.To != nil && e.CreatedAt.After(*f.To):
		return false
	case f.Action != nil && e.Action != *f.Action:
		return false
	case f.TargetType != nil && e.Target.Type != *f.TargetType:
		return false
	case f.Severity != nil && e.Severity != *f.Severity:
		return false
	case f.Outcome != nil && e.Outcome != *f.Outcome:
		return false
	case f.IPAddress != nil && e.IPAddress != *f.IPAddress:
		return false
	case f.Search != nil && !auditContains(e, *f.Search):
		return false
	}
	return true
}

func auditContains(e models.AuditEvent, search string) bool {
	needle := strings.ToLower(search)
	for _, field := range []string{e.ActorEmail, e.Target.ID.String(), e.RequestID} {
		if strings.Contains(strings.ToLower(field), needle) {
			return true
		}
	}
	return false
}

func (r *auditRepo) Counts(_ context.Context, since time.Time) ([]models.AuditCount, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	type key struct {
		action   models.AuditAction
		severity models.Severity
		outcome  models.Outcome
	}
	grouped := map[key]int{}
	for _, e := range r.s.data.audit {
		if e.OrgID == r.org && !e.CreatedAt.Before(since) {
			grouped[key{e.Action, e.Severity, e.Outcome}]++
		}
	}

	counts := make([]models.AuditCount, 0, len(grouped))
	for k, n := range grouped {
		counts = append(counts, models.AuditCount{Action: k.action, Severity: k.severity, Outcome: k.outcome, Count: n})
	}
	sort.Slice(counts, func(i, j int) bool {
		a, b := counts[i], counts[j]
		if a.Action != b.Action {
			return a.Action < b.Action
		}
		if a.Severity != b.Severity {
			return a.Severity < b.Severity
		}
		return a.Outcome < b.Outcome
	})
	return counts, nil
}

func (r *auditRepo) FilterOptions(_ context.Context, maxActors int) (*models.AuditFilterOptions, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	actors := map[uuid.UUID]string{}
	actions := map[models.AuditAction]bool{}
	targetTypes := map[models.EntityType]bool{}
	// newest email wins, as in the SQL implementation
	for _, e := range r.s.data.audit {
		if e.OrgID != r.org {
			continue
		}
		if e.ActorID != nil {
			actors[*e.ActorID] = e.ActorEmail
		}
		actions[e.Action] = true
		targetTypes[e.Target.Type] = true
	}

	opts := &models.AuditFilterOptions{
		Actors:      []models.AuditActorOption{},
		Actions:     []models.AuditAction{},
		TargetTypes: []models.EntityType{},
		Severities:  models.Severities(),
		Outcomes:    models.Outcomes(),
	}
	for id, email := range actors {
		opts.Actors = append(opts.Actors, models.AuditActorOption{ID: id, Email: email})
	}
	sort.Slice(opts.Actors, func(i, j int) bool { return opts.Actors[i].ID.String() < opts.Actors[j].ID.String() })
	if len(opts.Actors) > maxActors {
		opts.Actors = opts.Actors[:maxActors]
	}
	for a := range actions {
		opts.Actions = append(opts.Actions, a)
	}
	sort.Slice(opts.Actions, func(i, j int) bool { return opts.Actions[i] < opts.Actions[j] })
	for t := range targetTypes {
		opts.TargetTypes = append(opts.TargetTypes, t)
	}
	sort.Slice(opts.TargetTypes, func(i, j int) bool { return opts.TargetTypes[i].String() < opts.TargetTypes[j].String() })
	return opts, nil
}

func (r *auditRepo) List(_ context.Context, f models.AuditFilter, limit, offset int) ([]*models.AuditEvent, int, error) {
	all := r.matching(f)
	return window(all, limit, offset), len(all), nil
}

func (r *auditRepo) Export(_ context.Context, f models.AuditFilter, limit int) ([]*models.AuditEvent, error) {
	return window(r.matching(f), limit, 0), nil
}

func (r *auditRepo) ApplyRetention(_ context.Context, entityType models.EntityType, cutoff time.Time, action models.RetentionAction) (int64, error) {
	if !action.Valid() {
		return 0, fmt.Errorf("unknown retention action %q", action)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var (
		kept     []models.AuditEvent
		affected int64
	)
	for _, e := range r.s.data.audit {
		if e.OrgID != r.org || e.Target.Type != entityType || !e.CreatedAt.Before(cutoff) {
			kept = append(kept, e)
			continue
		}
		switch action {
		case models.RetentionArchive:
			r.s.data.archive = append(r.s.data.archive, e)
			affected++
		case models.RetentionDelete:
			affected++
		case models.RetentionAnonymize:
			if e.ActorID != nil || e.ActorEmail != "" || e.IPAddress != "" || e.UserAgent != "" || e.Before != nil || e.After != nil {
				e.ActorID, e.ActorEmail, e.IPAddress, e.UserAgent = nil, "", "", ""
				e.Before, e.After = nil, nil
				affected++
			}
			kept = append(kept, e)
		}
	}
	r.s.data.audit = kept
	return affected, nil
}

type retentionRepo struct {
	s   *Store
	org uuid.UUID
}

func (r *retentionRepo) List(_ context.Context) ([]*models.RetentionPolicy, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.RetentionPolicy
	for _, p := range r.s.data.retention {
		if p.OrgID == r.org {
			p := p
			out = append(out, &p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].EntityType.String() < out[j].EntityType.String()
	})
	return out, nil
}

func (r *retentionRepo) GetByID(_ context.Context, id uuid.UUID) (*models.RetentionPolicy, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.data.retention[id]
	if !ok || p.OrgID != r.org {
		return nil, repositories.ErrNotFound
	}
	return &p, nil
}

func (r *retentionRepo) Upsert(_ context.Context, policy *models.RetentionPolicy) error {
	policy.OrgID = r.org
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	for id, p := range r.s.data.retention {
		if p.OrgID == r.org && p.EntityType == policy.EntityType {
			policy.ID = id
			policy.CreatedAt = p.CreatedAt
			policy.LastAppliedAt = p.LastAppliedAt
		}
	}
	r.s.data.retention[policy.ID] = *policy
	return nil
}

func (r *retentionRepo) Delete(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.data.retention[id]
	if !ok || p.OrgID != r.org {
		return repositories.ErrNotFound
	}
	delete(r.s.data.retention, id)
	return nil
}

func (r *retentionRepo) MarkApplied(_ context.Context, id uuid.UUID, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	p, ok := r.s.data.retention[id]
	if !ok || p.OrgID != r.org {
		return repositories.ErrNotFound
	}
	p.LastAppliedAt = &at
	p.UpdatedAt = at
	r.s.data.retention[id] = p
	return nil
}

type subscriptionRepo struct {
	s   *Store
	org uuid.UUID
}

func (r *subscriptionRepo) Create(_ context.Context, sub *models.WebhookSubscription) error {
	sub.OrgID = r.org
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.data.subs[sub.ID]; ok {
		return repositories.ErrDuplicate
	}
	c := *sub
	c.EventTypes = append([]string(nil), sub.EventTypes...)
	r.s.data.subs[sub.ID] = c
	return nil
}

func (r *subscriptionRepo) get(id uuid.UUID) (models.WebhookSubscription, bool) {
	sub, ok := r.s.data.subs[id]
	return sub, ok && sub.OrgID == r.org
}

func (r *subscriptionRepo) GetByID(_ context.Context, id uuid.UUID) (*models.WebhookSubscription, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sub, ok := r.get(id)
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &sub, nil
}

func (r *subscriptionRepo) list(keep func(models.WebhookSubscription) bool) []*models.WebhookSubscription {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.WebhookSubscription
	for _, sub := range r.s.data.subs {
		if sub.OrgID == r.org && keep(sub) {
			sub := sub
			out = append(out, &sub)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (r *subscriptionRepo) List(_ context.Context) ([]*models.WebhookSubscription, error) {
	out := r.list(func(models.WebhookSubscription) bool { return true })
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (r *subscriptionRepo) ListActiveForEvent(_ context.Context, eventType string) ([]*models.WebhookSubscription, error) {
	return r.list(func(sub models.WebhookSubscription) bool {
		return sub.Status == models.SubscriptionActive && sub.Matches(eventType)
	}), nil
}

func (r *subscriptionRepo) update(id uuid.UUID, fn func(*models.WebhookSubscription)) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	sub, ok := r.get(id)
	if !ok {
		return repositories.ErrNotFound
	}
	fn(&sub)
	r.s.data.subs[id] = sub
	return nil
}

func (r *subscriptionRepo) Update(_ context.Context, in *models.WebhookSubscription) error {
	return r.update(in.ID, func(sub *models.WebhookSubscription) {
		sub.URL = in.URL
		sub.Description = in.Description
		sub.EventTypes = append([]string(nil), in.EventTypes...)
		sub.RetryPolicy = in.RetryPolicy
		sub.UpdatedAt = in.UpdatedAt
	})
}

func (r *subscriptionRepo) UpdateStatus(_ context.Context, id uuid.UUID, status models.SubscriptionStatus) error {
	return r.update(id, func(sub *models.WebhookSubscription) {
		sub.Status = status
		if status == models.SubscriptionActive {
			sub.ConsecutiveFailures = 0
		}
		sub.UpdatedAt = time.Now().UTC()
	})
}

func (r *subscriptionRepo) UpdateSecret(_ context.Context, id uuid.UUID, secret string) error {
	return r.update(id, func(sub *models.WebhookSubscription) {
		sub.Secret = secret
		sub.UpdatedAt = time.Now().UTC()
	})
}

func (r *subscriptionRepo) RecordSuccess(_ context.Context, id uuid.UUID, at time.Time) error {
	return r.update(id, func(sub *models.WebhookSubscription) {
		sub.ConsecutiveFailures = 0
		sub.LastSuccessAt = &at
		sub.UpdatedAt = at
	})
}

func (r *subscriptionRepo) RecordFailure(_ context.Context, id uuid.UUID, at time.Time) (int, error) {
	var failures int
	err := r.update(id, func(sub *models.WebhookSubscription) {
		sub.ConsecutiveFailures++
		sub.LastFailureAt = &at
		sub.UpdatedAt = at
		failures = sub.ConsecutiveFailures
	})
	return failures, err
}

type deliveryRepo struct {
	s   *Store
	org uuid.UUID
}

func (r *deliveryRepo) get(id uuid.UUID) (models.WebhookDelivery, bool) {
	d, ok := r.s.data.deliveries[id]
	return d, ok && d.OrgID == r.org
}

func (r *deliveryRepo) Create(_ context.Context, d *models.WebhookDelivery) error {
	d.OrgID = r.org
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.data.deliveries[d.ID]; ok {
		return repositories.ErrDuplicate
	}
	r.s.data.deliveries[d.ID] = *d
	return nil
}

func (r *deliveryRepo) GetByID(_ context.Context, id uuid.UUID) (*models.WebhookDelivery, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.get(id)
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &d, nil
}

func (r *deliveryRepo) List(_ context.Context, f models.DeliveryFilter, limit, offset int) ([]*models.WebhookDelivery, int, error) {
	r.s.mu.Lock()
	var all []*models.WebhookDelivery
	for _, d := range r.s.data.deliveries {
		if d.OrgID != r.org ||
			(f.SubscriptionID != nil && d.SubscriptionID != *f.SubscriptionID) ||
			(f.Status != nil && d.Status != *f.Status) ||
			(f.EventType != "" && d.EventType != f.EventType) {
			continue
		}
		d := d
		all = append(all, &d)
	}
	r.s.mu.Unlock()

	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	return window(all, limit, offset), len(all), nil
}

func (r *deliveryRepo) Transition(_ context.Context, d *models.WebhookDelivery, fromStatus models.DeliveryStatus, fromAttempt int) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cur, ok := r.get(d.ID)
	if !ok {
		return repositories.ErrNotFound
	}
	if cur.Status != fromStatus || cur.AttemptNumber != fromAttempt {
		return repositories.ErrPreconditionFailed
	}
	next := *d
	next.OrgID = cur.OrgID
	next.SubscriptionID = cur.SubscriptionID
	next.EventType = cur.EventType
	next.Payload = cur.Payload
	next.ReplayedFrom = cur.ReplayedFrom
	next.CreatedAt = cur.CreatedAt
	r.s.data.deliveries[d.ID] = next
	return nil
}

func (r *deliveryRepo) ResetFromDLQ(_ context.Context, id uuid.UUID, at time.Time) (*models.WebhookDelivery, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.get(id)
	if !ok {
		return nil, repositories.ErrNotFound
	}
	if d.Status != models.DeliveryDLQ {
		return nil, repositories.ErrPreconditionFailed
	}
	d.Status = models.DeliveryPending
	d.AttemptNumber = 1
	d.NextRetryAt = nil
	d.ErrorMessage = ""
	d.UpdatedAt = at
	r.s.data.deliveries[id] = d
	return &d, nil
}

func (r *deliveryRepo) MarkFailed(_ context.Context, id uuid.UUID, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	d, ok := r.get(id)
	if !ok {
		return repositories.ErrNotFound
	}
	if d.Status != models.DeliveryDLQ {
		return repositories.ErrPreconditionFailed
	}
	d.Status = models.DeliveryFailed
	d.NextRetryAt = nil
	d.UpdatedAt = at
	r.s.data.deliveries[id] = d
	return nil
}

func (r *deliveryRepo) MarkAllFailed(_ context.Context, subscriptionID *uuid.UUID, at time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var n int64
	for id, d := range r.s.data.deliveries {
		if d.OrgID != r.org || d.Status != models.DeliveryDLQ {
			continue
		}
		if subscriptionID != nil && d.SubscriptionID != *subscriptionID {
			continue
		}
		d.Status = models.DeliveryFailed
		d.NextRetryAt = nil
		d.UpdatedAt = at
		r.s.data.deliveries[id] = d
		n++
	}
	return n, nil
}

type outboxWriter struct {
	s   *Store
	org uuid.UUID
}

func (w *outboxWriter) Enqueue(_ context.Context, msg *models.OutboxMessage) error {
	msg.OrgID = w.org
	w.s.mu.Lock()
	defer w.s.mu.Unlock()
	w.s.data.outbox = append(w.s.data.outbox, *msg)
	return nil
}

type outboxQueue struct {
	s *Store
}

func (q *outboxQueue) ClaimBatch(_ context.Context, limit int, lease time.Duration) ([]*models.OutboxMessage, error) {
	now := q.s.Now().UTC()
	until := now.Add(lease)

	q.s.mu.Lock()
	defer q.s.mu.Unlock()

	idx := make([]int, 0, len(q.s.data.outbox))
	for i, m := range q.s.data.outbox {
		if m.ProcessedAt == nil && !m.AvailableAt.After(now) && (m.LockedUntil == nil || m.LockedUntil.Before(now)) {
			idx = append(idx, i)
		}
	}
	sort.SliceStable(idx, func(a, b int) bool {
		return q.s.data.outbox[idx[a]].AvailableAt.Before(q.s.data.outbox[idx[b]].AvailableAt)
	})
	if len(idx) > limit {
		idx = idx[:limit]
	}

	out := make([]*models.OutboxMessage, 0, len(idx))
	for _, i := range idx {
		q.s.data.outbox[i].LockedUntil = &until
		m := q.s.data.outbox[i]
		out = append(out, &m)
	}
	return out, nil
}

func (q *outboxQueue) Complete(_ context.Context, id uuid.UUID, at time.Time) error {
	q.s.mu.Lock()
	defer q.s.mu.Unlock()
	for i, m := range q.s.data.outbox {
		if m.ID == id && m.ProcessedAt == nil {
			q.s.data.outbox[i].ProcessedAt = &at
			q.s.data.outbox[i].LockedUntil = nil
			return nil
		}
	}
	return repositories.ErrNotFound
}

type failoverRepo struct {
	s   *Store
	org uuid.UUID
}

func (r *failoverRepo) find(integrationType string) (models.FailoverConfig, bool) {
	for _, c := range r.s.data.failover {
		if c.OrgID == r.org && c.IntegrationType == integrationType {
			return c, true
		}
	}
	return models.FailoverConfig{}, false
}

func (r *failoverRepo) List(_ context.Context) ([]*models.FailoverConfig, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	var out []*models.FailoverConfig
	for _, c := range r.s.data.failover {
		if c.OrgID == r.org {
			c := c
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].IntegrationType < out[j].IntegrationType })
	return out, nil
}

func (r *failoverRepo) GetByIntegrationType(_ context.Context, integrationType string) (*models.FailoverConfig, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.find(integrationType)
	if !ok {
		return nil, repositories.ErrNotFound
	}
	return &c, nil
}

func (r *failoverRepo) Upsert(_ context.Context, in *models.FailoverConfig) error {
	in.OrgID = r.org
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	stored, ok := r.find(in.IntegrationType)
	if !ok {
		stored = *in
		stored.CurrentActive = models.FailoverPrimary
		stored.FailoverCount = 0
		stored.LastFailoverAt = nil
		stored.LastFailoverReason = ""
		stored.CreatedAt = in.UpdatedAt
	} else {
		stored.PrimaryProvider = in.PrimaryProvider
		stored.BackupProvider = in.BackupProvider
		stored.FailureThreshold = in.FailureThreshold
		stored.AutoFailover = in.AutoFailover
		stored.AutoRecovery = in.AutoRecovery
	}
	stored.UpdatedAt = in.UpdatedAt
	r.s.data.failover[stored.ID] = stored
	*in = stored
	return nil
}

func (r *failoverRepo) Switch(_ context.Context, integrationType string, expected models.FailoverTarget, reason string, at time.Time) (*models.FailoverConfig, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	c, ok := r.find(integrationType)
	if !ok {
		return nil, repositories.ErrNotFound
	}
	if c.CurrentActive != expected {
		return nil, repositories.ErrPreconditionFailed
	}
	c.CurrentActive = expected.Other()
	c.FailoverCount++
	c.LastFailoverAt = &at
	c.LastFailoverReason = reason
	c.UpdatedAt = at
	r.s.data.failover[c.ID] = c
	return &c, nil
}

type expenseRepo struct {
	s   *Store
	org uuid.UUID
}

func (r *expenseRepo) get(id uuid.UUID) (models.ExpenseReport, bool) {
	rep, ok := r.s.data.reports[id]
	return rep, ok && rep.OrgID == r.org
}

func (r *expenseRepo) CreateReport(_ context.Context, report *models.ExpenseReport) error {
	report.OrgID = r.org
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	stored := *report
	stored.Items = nil
	r.s.data.reports[report.ID] = stored
	return nil
}

func (r *expenseRepo) GetReport(_ context.Context, id uuid.UUID) (*models.ExpenseReport, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rep, ok := r.get(id)
	if !ok {
		return nil, repositories.ErrNotFound
	}
	rep.Items = append([]models.ExpenseItem(nil), r.s.data.items[id]...)
	return &rep, nil
}

func (r *expenseRepo) ListReports(_ context.Context, f models.ExpenseFilter, limit, offset int) ([]*models.ExpenseReport, int, error) {
	r.s.mu.Lock()
	var all []*models.ExpenseReport
	for _, rep := range r.s.data.reports {
		if rep.OrgID != r.org ||
			(f.EmployeeID != nil && rep.EmployeeID != *f.EmployeeID) ||
			(f.Status != nil && rep.Status != *f.Status) {
			continue
		}
		rep := rep
		all = append(all, &rep)
	}
	r.s.mu.Unlock()

	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	return window(all, limit, offset), len(all), nil
}

func (r *expenseRepo) AddItem(_ context.Context, item *models.ExpenseItem) error {
	item.OrgID = r.org
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rep, ok := r.get(item.ReportID)
	if !ok {
		return repositories.ErrNotFound
	}
	if rep.Status != models.ExpenseDraft {
		return repositories.ErrPreconditionFailed
	}
	r.s.data.items[item.ReportID] = append(r.s.data.items[item.ReportID], *item)
	return nil
}

func (r *expenseRepo) RecomputeTotal(_ context.Context, reportID uuid.UUID) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rep, ok := r.get(reportID)
	if !ok {
		return 0, repositories.ErrNotFound
	}
	var total int64
	for _, it := range r.s.data.items[reportID] {
		total += it.Amount
	}
	rep.TotalAmount = total
	rep.UpdatedAt = time.Now().UTC()
	r.s.data.reports[reportID] = rep
	return total, nil
}

func (r *expenseRepo) Transition(_ context.Context, id uuid.UUID, from, to models.ExpenseStatus, change repositories.ExpenseChange) (*models.ExpenseReport, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	rep, ok := r.get(id)
	if !ok {
		return nil, repositories.ErrNotFound
	}
	if rep.Status != from {
		return nil, repositories.ErrPreconditionFailed
	}
	if change.ExpectedTotal != nil && rep.TotalAmount != *change.ExpectedTotal {
		return nil, repositories.ErrPreconditionFailed
	}

	at := change.At
	rep.Status = to
	rep.UpdatedAt = at
	switch to {
	case models.ExpensePendingApproval:
		rep.SubmittedAt = &at
	case models.ExpenseApproved:
		if from == models.ExpenseDraft {
			rep.SubmittedAt = &at
		}
		rep.ApprovedAt = &at
		rep.ApprovedBy = change.ActorID
	case models.ExpenseRejected:
		rep.ApprovedBy = change.ActorID
		rep.RejectionReason = change.RejectionReason
	case models.ExpensePaid:
		rep.PaidAt = &at
	}
	r.s.data.reports[id] = rep
	return &rep, nil
}

func (r *expenseRepo) GetSettings(_ context.Context) (*models.ExpenseSettings, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	settings, ok := r.s.data.settings[r.org]
	if !ok {
		return &models.ExpenseSettings{OrgID: r.org}, nil
	}
	return &settings, nil
}

func window[T any](all []T, limit, offset int) []T {
	if offset >= len(all) {
		return nil
	}
	end := offset + limit
	if limit <= 0 || end > len(all) {
		end = len(all)
	}
	return all[offset:end]
}
