package ingress

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/emilioaray-dev/bcv-service-sub000/internal/models"
	"github.com/emilioaray-dev/bcv-service-sub000/internal/sender"
)

type fakeNotifier struct {
	rateEvents       []models.Event
	rateData         []models.RateData
	statusEvents     []models.Event
	deploymentEvents []models.Event
}

func (f *fakeNotifier) SendRateNotification(_ context.Context, event models.Event, data models.RateData) sender.Result {
	f.rateEvents = append(f.rateEvents, event)
	f.rateData = append(f.rateData, data)
	return sender.Result{Success: true, Attempt: 1}
}

func (f *fakeNotifier) SendStatusNotification(_ context.Context, event models.Event, _ models.StatusData) sender.Result {
	f.statusEvents = append(f.statusEvents, event)
	return sender.Result{Success: true, Attempt: 1}
}

func (f *fakeNotifier) SendDeploymentNotification(_ context.Context, event models.Event, _ models.DeploymentData) sender.Result {
	f.deploymentEvents = append(f.deploymentEvents, event)
	return sender.Result{Success: true, Attempt: 1}
}

func newTestIngress(notifier Notifier) *Ingress {
	ctx, cancel := context.WithCancel(context.Background())
	return &Ingress{
		notifier: notifier,
		logger:   zap.NewNop(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

func TestHandleEventDispatch(t *testing.T) {
	t.Run("RateEvent", func(t *testing.T) {
		notifier := &fakeNotifier{}
		ing := newTestIngress(notifier)

		body := []byte(`{"event":"rate.changed","data":{"date":"2025-06-01","rates":[{"currency":"USD","rate":37.2,"name":"Dólar"}],"change":{"previousRate":36.9,"currentRate":37.2,"percentageChange":0.81}}}`)
		require.NoError(t, ing.HandleEvent(body))

		require.Len(t, notifier.rateEvents, 1)
		assert.Equal(t, models.EventRateChanged, notifier.rateEvents[0])
		require.Len(t, notifier.rateData[0].Rates, 1)
		assert.Equal(t, "USD", notifier.rateData[0].Rates[0].Currency)
		require.NotNil(t, notifier.rateData[0].Change)
		assert.InDelta(t, 0.81, notifier.rateData[0].Change.PercentageChange, 0.001)
	})

	t.Run("StatusEvent", func(t *testing.T) {
		notifier := &fakeNotifier{}
		ing := newTestIngress(notifier)

		body := []byte(`{"event":"service.unhealthy","data":{"status":"unhealthy","uptime":12345,"checks":{"database":{"status":"down","message":"timeout"}}}}`)
		require.NoError(t, ing.HandleEvent(body))
		require.Len(t, notifier.statusEvents, 1)
		assert.Equal(t, models.EventServiceUnhealthy, notifier.statusEvents[0])
	})

	t.Run("DeploymentEvent", func(t *testing.T) {
		notifier := &fakeNotifier{}
		ing := newTestIngress(notifier)

		body := []byte(`{"event":"deployment.success","data":{"deploymentId":"d-123","environment":"production","version":"1.4.2"}}`)
		require.NoError(t, ing.HandleEvent(body))
		require.Len(t, notifier.deploymentEvents, 1)
		assert.Equal(t, models.EventDeploymentSuccess, notifier.deploymentEvents[0])
	})

	t.Run("UnknownEventIsAcked", func(t *testing.T) {
		notifier := &fakeNotifier{}
		ing := newTestIngress(notifier)

		require.NoError(t, ing.HandleEvent([]byte(`{"event":"unknown.event","data":{}}`)))
		assert.Empty(t, notifier.rateEvents)
		assert.Empty(t, notifier.statusEvents)
		assert.Empty(t, notifier.deploymentEvents)
	})

	t.Run("MalformedEnvelopeIsRejected", func(t *testing.T) {
		ing := newTestIngress(&fakeNotifier{})
		assert.Error(t, ing.HandleEvent([]byte(`not json`)))
	})

	t.Run("MalformedDataIsRejected", func(t *testing.T) {
		ing := newTestIngress(&fakeNotifier{})
		assert.Error(t, ing.HandleEvent([]byte(`{"event":"rate.changed","data":"not an object"}`)))
	})
}
