package dispatcher_test

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dukex/dunning/pkg/channels"
	"github.com/dukex/dunning/pkg/dispatcher"
	"github.com/dukex/dunning/pkg/executionlog"
	"github.com/dukex/dunning/pkg/mocks"
	"github.com/dukex/dunning/pkg/models"
	"github.com/dukex/dunning/pkg/persistence/memory"
	"github.com/dukex/dunning/pkg/retry"
	"github.com/dukex/dunning/pkg/scheduler"
	"github.com/dukex/dunning/pkg/testutil"
)

var now = testutil.BaseTime

func clock() time.Time { return now }

type fixture struct {
	store *memory.Persistence
	ctx   context.Context
}

func setup(t *testing.T) *fixture {
	t.Helper()

	store, err := memory.NewPersistence(slog.Default())
	require.NoError(t, err)

	ctx := context.Background()

	ana := testutil.CreateTestDebt("ana", testutil.WithAmount(250))
	ana.DebtorName = "Ana"
	gone := testutil.CreateTestDebt("gone", testutil.WithDeleted())

	require.NoError(t, testutil.Seed(ctx, store,
		testutil.Debtor{Debt: ana, Contacts: []*models.Contact{
			testutil.CreateTestContact("ana-mail", ana, models.ContactTypeEmail, true),
			testutil.CreateTestContact("ana-phone", ana, models.ContactTypePhone, true),
		}},
		testutil.Debtor{Debt: gone, Contacts: []*models.Contact{
			testutil.CreateTestContact("gone-mail", gone, models.ContactTypeEmail, true),
		}},
	))

	require.NoError(t, store.SaveTemplate(ctx, &models.Template{
		ID:       "tpl-reminder",
		TenantID: testutil.TenantID,
		Channel:  models.ChannelEmail,
		Subject:  "Reminder {{ debt_reference }}",
		Body:     "Hello {{debtor_name}}, you owe {{currency}} {{amount}}.{{unknown}}",
	}))
	require.NoError(t, store.SaveAgent(ctx, &models.Agent{
		ID: "agent-1", TenantID: testutil.TenantID, Name: "Collector", ProviderRef: "voice-7",
	}))

	return &fixture{store: store, ctx: ctx}
}

func (f *fixture) dispatcher(sender channels.Sender, opts ...dispatcher.Option) *dispatcher.Dispatcher {
	logger := slog.Default()

	return dispatcher.New(dispatcher.Dependencies{
		Store:     f.store,
		Runs:      executionlog.New(f.store, logger, executionlog.WithClock(clock)),
		Senders:   channels.NewRegistry(sender, logger),
		Retries:   retry.NewResolver(f.store, logger),
		Scheduler: scheduler.New(f.store, logger, scheduler.WithClock(clock)),
		Logger:    logger,
	}, append([]dispatcher.Option{dispatcher.WithClock(clock)}, opts...)...)
}

func (f *fixture) insert(t *testing.T, id, debtID string, overrides ...func(*models.ScheduledAction)) {
	t.Helper()

	action := &models.ScheduledAction{
		ID:         id,
		TenantID:   testutil.TenantID,
		DebtID:     debtID,
		CampaignID: testutil.Ptr("camp-1"),
		Channel:    models.ChannelEmail,
		TargetTime: now.Add(-time.Hour),
		TemplateID: testutil.Ptr("tpl-reminder"),
		Variables: map[string]string{
			"debtor_name":    "Ana",
			"amount":         "250.00",
			"currency":       "USD",
			"debt_reference": "REF-ana",
		},
		State:     models.ActionStatePending,
		CreatedAt: now.Add(-2 * time.Hour),
	}

	for _, o := range overrides {
		o(action)
	}

	inserted, err := f.store.InsertAction(f.ctx, action)
	require.NoError(t, err)
	require.True(t, inserted)
}

func (f *fixture) state(t *testing.T, id string) models.ActionState {
	t.Helper()

	action, err := f.store.Action(f.ctx, id)
	require.NoError(t, err)

	return action.State
}

func TestRunOnce_DeliversAndRecords(t *testing.T) {
	f := setup(t)
	f.insert(t, "a1", "ana")

	sender := new(mocks.MockSender)
	sender.On("Send", mock.Anything, mock.MatchedBy(func(req channels.Request) bool {
		return req.Action.ID == "a1" &&
			req.Recipient == "ana-mail@example.com" &&
			req.Subject == "Reminder REF-ana" &&
			req.Body == "Hello Ana, you owe USD 250.00."
	})).Return(channels.Result{Success: true, ExternalID: "msg-1"}).Once()

	processed, err := f.dispatcher(sender).RunOnce(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Equal(t, models.ActionStateDone, f.state(t, "a1"))

	outcome, err := f.store.OutcomeByAction(f.ctx, "a1")
	require.NoError(t, err)
	assert.True(t, outcome.Success)
	assert.Equal(t, "msg-1", *outcome.ExternalID)
	assert.Equal(t, "ana-mail@example.com", outcome.Recipient)

	run, err := f.store.EnsureRun(f.ctx, &models.WorkflowRun{ID: "unused", CampaignID: "camp-1", SubjectID: "ana"})
	require.NoError(t, err)
	assert.NotEqual(t, "unused", run.ID)

	logs, err := f.store.RunLogs(f.ctx, run.ID)
	require.NoError(t, err)
	require.Len(t, logs, 2)
	assert.Equal(t, models.LogStatusStarted, logs[0].Status)
	assert.Equal(t, models.LogStatusDone, logs[1].Status)
	assert.Equal(t, "a1", logs[1].NodeID)

	sender.AssertExpectations(t)

	// nothing left to do
	processed, err = f.dispatcher(sender).RunOnce(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, processed)
}

func TestRunOnce_CancelsActionsOfDeletedDebts(t *testing.T) {
	f := setup(t)
	f.insert(t, "a-gone", "gone")

	sender := new(mocks.MockSender)

	processed, err := f.dispatcher(sender).RunOnce(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Equal(t, models.ActionStateCancelled, f.state(t, "a-gone"))

	sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestRunOnce_SkipsActionsNotYetDue(t *testing.T) {
	f := setup(t)
	f.insert(t, "later", "ana", func(a *models.ScheduledAction) {
		a.TargetTime = now.Add(time.Minute)
	})

	sender := new(mocks.MockSender)

	processed, err := f.dispatcher(sender).RunOnce(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, processed)
	assert.Equal(t, models.ActionStatePending, f.state(t, "later"))
}

func TestRunOnce_SchedulesRetryOnRetryableFailure(t *testing.T) {
	f := setup(t)
	f.insert(t, "a1", "ana")

	sender := new(mocks.MockSender)
	sender.On("Send", mock.Anything, mock.Anything).
		Return(channels.Result{Error: "provider timeout", Retryable: true}).Once()

	processed, err := f.dispatcher(sender).RunOnce(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Equal(t, models.ActionStateCancelled, f.state(t, "a1"))

	outcome, err := f.store.OutcomeByAction(f.ctx, "a1")
	require.NoError(t, err)
	assert.False(t, outcome.Success)
	assert.Equal(t, "provider timeout", *outcome.Error)

	actions, err := f.store.ActionsByTenant(f.ctx, testutil.TenantID)
	require.NoError(t, err)
	require.Len(t, actions, 2)

	followUp := actions[1]
	assert.Equal(t, models.ActionStatePending, followUp.State)
	assert.Equal(t, 1, followUp.Attempt)
	assert.Equal(t, "a1", *followUp.RetryOf)
	assert.Equal(t, now.Add(time.Minute), followUp.TargetTime)
	assert.Equal(t, "Ana", followUp.Variables["debtor_name"])
}

func TestRunOnce_NoRetryWhenNotRetryableOrExhausted(t *testing.T) {
	f := setup(t)
	f.insert(t, "rejected", "ana")
	f.insert(t, "last", "ana", func(a *models.ScheduledAction) {
		a.Attempt = 2
		a.CampaignID = testutil.Ptr("camp-2")
	})

	sender := new(mocks.MockSender)
	sender.On("Send", mock.Anything, mock.MatchedBy(func(req channels.Request) bool { return req.Action.ID == "rejected" })).
		Return(channels.Result{Error: "invalid address", Retryable: false})
	sender.On("Send", mock.Anything, mock.MatchedBy(func(req channels.Request) bool { return req.Action.ID == "last" })).
		Return(channels.Result{Error: "busy", Retryable: true})

	processed, err := f.dispatcher(sender).RunOnce(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, processed)

	actions, err := f.store.ActionsByTenant(f.ctx, testutil.TenantID)
	require.NoError(t, err)
	assert.Len(t, actions, 2)
}

func TestRunOnce_TenantRetryPolicyOverride(t *testing.T) {
	f := setup(t)
	f.insert(t, "a1", "ana")
	require.NoError(t, f.store.SaveRetryPolicy(f.ctx, &models.RetryPolicy{
		Channel:      models.ChannelEmail,
		TenantID:     testutil.TenantID,
		MaxAttempts:  5,
		BackoffSteps: []time.Duration{2 * time.Hour},
	}))

	sender := new(mocks.MockSender)
	sender.On("Send", mock.Anything, mock.Anything).Return(channels.Result{Error: "down", Retryable: true})

	_, err := f.dispatcher(sender).RunOnce(f.ctx)
	require.NoError(t, err)

	actions, err := f.store.ActionsByTenant(f.ctx, testutil.TenantID)
	require.NoError(t, err)
	require.Len(t, actions, 2)
	assert.Equal(t, now.Add(2*time.Hour), actions[1].TargetTime)
}

func TestRunOnce_RevertsWhenRenderingFails(t *testing.T) {
	f := setup(t)
	f.insert(t, "broken", "ana", func(a *models.ScheduledAction) {
		a.TemplateID = testutil.Ptr("tpl-missing")
	})

	sender := new(mocks.MockSender)

	processed, err := f.dispatcher(sender).RunOnce(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, processed)
	assert.Equal(t, models.ActionStatePending, f.state(t, "broken"))

	_, err = f.store.OutcomeByAction(f.ctx, "broken")
	assert.Error(t, err)

	sender.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
}

func TestRunOnce_RevertsWhenNoSenderHandlesChannel(t *testing.T) {
	f := setup(t)
	f.insert(t, "a1", "ana")

	logger := slog.Default()
	d := dispatcher.New(dispatcher.Dependencies{
		Store:   f.store,
		Runs:    executionlog.New(f.store, logger),
		Senders: channels.NewRegistry(nil, logger),
		Logger:  logger,
	}, dispatcher.WithClock(clock))

	processed, err := d.RunOnce(f.ctx)
	require.NoError(t, err)
	assert.Zero(t, processed)
	assert.Equal(t, models.ActionStatePending, f.state(t, "a1"))
}

func TestRunOnce_CallUsesAgent(t *testing.T) {
	f := setup(t)
	f.insert(t, "call-1", "ana", func(a *models.ScheduledAction) {
		a.Channel = models.ChannelCall
		a.TemplateID = nil
		a.AgentID = testutil.Ptr("agent-1")
	})

	sender := new(mocks.MockSender)
	sender.On("Send", mock.Anything, mock.MatchedBy(func(req channels.Request) bool {
		return req.Recipient == "+55ana-phone" && req.Subject == "Collector" && req.Body == "voice-7"
	})).Return(channels.Result{Success: true}).Once()

	processed, err := f.dispatcher(sender).RunOnce(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	sender.AssertExpectations(t)
}

func TestRunOnce_PanickingSenderCancelsAction(t *testing.T) {
	f := setup(t)
	f.insert(t, "a1", "ana")

	boom := channels.SenderFunc(func(context.Context, channels.Request) channels.Result {
		panic("provider exploded")
	})

	processed, err := f.dispatcher(boom).RunOnce(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Equal(t, models.ActionStateCancelled, f.state(t, "a1"))
}

func TestRunOnce_BatchSizeAndOrder(t *testing.T) {
	f := setup(t)

	for i, id := range []string{"c", "a", "b"} {
		f.insert(t, id, "ana", func(a *models.ScheduledAction) {
			a.TargetTime = now.Add(-time.Duration(3-i) * time.Minute)
			a.CampaignID = testutil.Ptr("camp-" + id)
		})
	}

	var order []string

	sender := channels.SenderFunc(func(_ context.Context, req channels.Request) channels.Result {
		order = append(order, req.Action.ID)

		return channels.Result{Success: true}
	})

	processed, err := f.dispatcher(sender, dispatcher.WithBatchSize(2)).RunOnce(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, processed)
	assert.Equal(t, []string{"c", "a"}, order)
	assert.Equal(t, models.ActionStatePending, f.state(t, "b"))
}

func TestRunOnce_ConcurrentDispatchersClaimOnce(t *testing.T) {
	f := setup(t)

	const n = 20
	for i := range n {
		f.insert(t, "a"+string(rune('a'+i)), "ana", func(a *models.ScheduledAction) {
			a.CampaignID = testutil.Ptr("camp-" + string(rune('a'+i)))
		})
	}

	var calls atomic.Int64

	sender := channels.SenderFunc(func(context.Context, channels.Request) channels.Result {
		calls.Add(1)

		return channels.Result{Success: true}
	})

	var (
		wg    sync.WaitGroup
		total atomic.Int64
	)

	for range 4 {
		wg.Add(1)

		go func() {
			defer wg.Done()

			processed, err := f.dispatcher(sender, dispatcher.WithConcurrency(3)).RunOnce(f.ctx)
			assert.NoError(t, err)
			total.Add(int64(processed))
		}()
	}

	wg.Wait()

	assert.Equal(t, int64(n), calls.Load())
	assert.Equal(t, int64(n), total.Load())
}

func TestRunOnce_SendTimeoutStopsHungSender(t *testing.T) {
	f := setup(t)
	f.insert(t, "a1", "ana")

	release := make(chan struct{})
	t.Cleanup(func() { close(release) })

	hung := channels.SenderFunc(func(context.Context, channels.Request) channels.Result {
		<-release

		return channels.Result{Success: true}
	})

	start := time.Now()

	processed, err := f.dispatcher(hung, dispatcher.WithSendTimeout(100*time.Millisecond)).RunOnce(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Equal(t, models.ActionStateCancelled, f.state(t, "a1"))

	outcome, err := f.store.OutcomeByAction(f.ctx, "a1")
	require.NoError(t, err)
	assert.False(t, outcome.Success)
	assert.Contains(t, *outcome.Error, "deadline exceeded")

	actions, err := f.store.ActionsByTenant(f.ctx, testutil.TenantID)
	require.NoError(t, err)
	assert.Len(t, actions, 2)
}

func TestRunOnce_IgnoresBoundContactOfAnotherType(t *testing.T) {
	f := setup(t)
	f.insert(t, "a1", "ana", func(a *models.ScheduledAction) {
		a.ContactID = testutil.Ptr("ana-phone")
	})

	sender := new(mocks.MockSender)
	sender.On("Send", mock.Anything, mock.MatchedBy(func(req channels.Request) bool {
		return req.Recipient == "ana-mail@example.com"
	})).Return(channels.Result{Success: true}).Once()

	processed, err := f.dispatcher(sender).RunOnce(f.ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, processed)
	sender.AssertExpectations(t)
}

func TestRunOnce_PersistsRunProgress(t *testing.T) {
	f := setup(t)
	f.insert(t, "a1", "ana")

	sender := new(mocks.MockSender)
	sender.On("Send", mock.Anything, mock.Anything).Return(channels.Result{Success: true})

	_, err := f.dispatcher(sender).RunOnce(f.ctx)
	require.NoError(t, err)

	run, err := f.store.EnsureRun(f.ctx, &models.WorkflowRun{ID: "unused", CampaignID: "camp-1", SubjectID: "ana"})
	require.NoError(t, err)

	stored, err := f.store.Run(f.ctx, run.ID)
	require.NoError(t, err)
	assert.Equal(t, "a1", stored.CurrentStep)
	assert.Equal(t, models.RunStateRunning, stored.State)
}
