package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"wadispatch/internal/constants"
	"wadispatch/internal/errors"
	"wadispatch/internal/metrics"
	"wadispatch/internal/models"
	"wadispatch/internal/tracing"
	"wadispatch/internal/validation"
	"wadispatch/pkg/whatsapp/types"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/time/rate"
)

// ClientLookup resolves a session id to its live client.
type ClientLookup interface {
	Get(sessionID string) (types.Client, bool)
}

// Pacing holds the hot-reloadable timing knobs of the dispatcher.
type Pacing struct {
	SendTimeout    time.Duration
	MinJitter      time.Duration
	MaxJitter      time.Duration
	SendRatePerSec float64
}

// DefaultPacing returns the stock pacing: 30s send timeout, 4-10s jitter and
// no process-wide rate ceiling.
func DefaultPacing() Pacing {
	return Pacing{
		SendTimeout: time.Duration(constants.DefaultSendTimeoutSec) * time.Second,
		MinJitter:   time.Duration(constants.DefaultMinJitterSec) * time.Second,
		MaxJitter:   time.Duration(constants.DefaultMaxJitterSec) * time.Second,
	}
}

// SendOutcome is the result of a successful single send.
type SendOutcome struct {
	SentTo   string `json:"sentTo"`
	SentFrom string `json:"sentFrom"`
}

// BulkAccepted acknowledges a bulk send that continues in the background.
type BulkAccepted struct {
	BatchID  string `json:"batchId"`
	Accepted int    `json:"accepted"`
}

// Dispatcher sends single messages synchronously and bulk messages in the
// background, rotating across the account's ready devices.
type Dispatcher struct {
	accounts AccountStore
	devices  DeviceStore
	logs     MessageLogStore
	ledger   *QuotaLedger
	clients  ClientLookup
	batches  *BatchTracker
	logger   *logrus.Logger
	errLog   *errors.Logger

	mu      sync.RWMutex
	pacing  Pacing
	limiter *rate.Limiter

	// sleep waits for d or until ctx is done; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
	// randDuration returns a uniform value in [0, n]; replaced in tests.
	randDuration func(n time.Duration) time.Duration

	verbose atomic.Bool

	rootCtx    context.Context
	rootCancel context.CancelFunc
	runMu      sync.Mutex
	closed     bool
	wg         sync.WaitGroup
}

func NewDispatcher(
	accounts AccountStore,
	devices DeviceStore,
	logs MessageLogStore,
	ledger *QuotaLedger,
	clients ClientLookup,
	batches *BatchTracker,
	pacing Pacing,
	logger *logrus.Logger,
) *Dispatcher {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		accounts:     accounts,
		devices:      devices,
		logs:         logs,
		ledger:       ledger,
		clients:      clients,
		batches:      batches,
		logger:       logger,
		errLog:       errors.WrapLogger(logger),
		sleep:        sleepContext,
		randDuration: uniformDuration,
		rootCtx:      ctx,
		rootCancel:   cancel,
	}
	d.ApplyPacing(pacing)
	return d
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func uniformDuration(n time.Duration) time.Duration {
	if n <= 0 {
		return 0
	}
	return time.Duration(rand.Int64N(int64(n) + 1))
}

// ApplyPacing swaps the timing knobs. Batches already running pick the new
// values up on their next item.
func (d *Dispatcher) ApplyPacing(p Pacing) {
	def := DefaultPacing()
	if p.SendTimeout <= 0 {
		p.SendTimeout = def.SendTimeout
	}
	if p.MinJitter < 0 {
		p.MinJitter = 0
	}
	if p.MaxJitter < p.MinJitter {
		p.MaxJitter = p.MinJitter
	}

	var limiter *rate.Limiter
	if p.SendRatePerSec > 0 {
		limiter = rate.NewLimiter(rate.Limit(p.SendRatePerSec), 1)
	}

	d.mu.Lock()
	d.pacing = p
	d.limiter = limiter
	d.mu.Unlock()

	d.logger.WithFields(logrus.Fields{
		"send_timeout": p.SendTimeout.String(),
		"min_jitter":   p.MinJitter.String(),
		"max_jitter":   p.MaxJitter.String(),
		"rate_per_sec": p.SendRatePerSec,
	}).Info("Dispatch pacing applied")
}

// SetVerboseLogging controls whether batch logs carry unmasked destinations.
func (d *Dispatcher) SetVerboseLogging(enabled bool) {
	d.verbose.Store(enabled)
}

func (d *Dispatcher) snapshot() (Pacing, *rate.Limiter) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.pacing, d.limiter
}

func (d *Dispatcher) jitter(p Pacing) time.Duration {
	return p.MinJitter + d.randDuration(p.MaxJitter-p.MinJitter)
}

func validateBody(body string) error {
	if body == "" {
		return errors.NewValidationError("message", "", "message cannot be empty")
	}
	if len(body) > constants.MaxMessageLength {
		return errors.NewValidationError("message", "", fmt.Sprintf("message too long (max %d bytes)", constants.MaxMessageLength))
	}
	return nil
}

// SendSingle sends one message from the account's first ready device. Device
// checks and the rate ceiling run before the quota reservation so a rejected
// send reserves nothing. Once reserved, the attempt is logged whether it
// succeeds or not.
func (d *Dispatcher) SendSingle(ctx context.Context, accountID int64, destination, body string) (*SendOutcome, error) {
	to, err := validation.NormalizePhoneNumber(destination)
	if err != nil {
		return nil, err
	}
	if err := validateBody(body); err != nil {
		return nil, err
	}

	ready, err := d.devices.ListReadyDevices(ctx, accountID)
	if err != nil {
		return nil, errors.NewDatabaseError("list ready devices", err)
	}
	if len(ready) == 0 {
		return nil, errors.NewNoActiveDeviceError()
	}
	device := ready[0]

	client, ok := d.clients.Get(device.SessionID)
	if !ok {
		return nil, errors.NewClientUnavailableError(device.SessionID)
	}

	pacing, limiter := d.snapshot()
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeRateLimit, "rate limiter wait aborted").
				WithUserMessage("Too many requests, please try again later")
		}
	}

	if err := d.ledger.Reserve(ctx, accountID, 1); err != nil {
		return nil, err
	}

	// The unit is reserved; finish the attempt even if the caller goes away.
	sendCtx := context.WithoutCancel(ctx)
	sendErr := d.send(sendCtx, client, device, to, body, pacing.SendTimeout)
	d.recordLog(sendCtx, accountID, "", device, to, body, sendErr)

	if sendErr != nil {
		return nil, sendErr
	}
	return &SendOutcome{SentTo: to, SentFrom: device.PhoneNumber}, nil
}

// send races the provider call against the send timeout.
func (d *Dispatcher) send(ctx context.Context, client types.Client, device models.Device, to, body string, timeout time.Duration) error {
	ctx, span := tracing.StartSpan(ctx, "dispatch.send",
		attribute.String("session", device.SessionID),
		attribute.Int64("account_id", device.AccountID),
	)
	defer span.End()

	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	done := make(chan error, 1)
	go func() {
		_, err := client.SendText(sendCtx, to, body)
		done <- err
	}()

	var err error
	select {
	case err = <-done:
		if err != nil {
			if stderrors.Is(err, context.DeadlineExceeded) || sendCtx.Err() == context.DeadlineExceeded {
				err = errors.NewSendTimeoutError(timeout.String())
			} else {
				err = errors.NewProviderError(err)
			}
		}
	case <-sendCtx.Done():
		if ctx.Err() != nil {
			err = errors.Wrap(ctx.Err(), errors.ErrCodeProvider, "send aborted").WithUserMessage("Message sending was aborted")
		} else {
			err = errors.NewSendTimeoutError(timeout.String())
		}
	}

	status := "sent"
	if err != nil {
		status = "failed"
		tracing.RecordError(ctx, err)
	}
	metrics.RecordTimer("dispatch_send_duration", time.Since(start), map[string]string{"status": status}, "Provider send latency")
	metrics.IncrementCounter("messages_total", map[string]string{"status": status}, "Messages attempted")
	return err
}

func failureReason(err error) string {
	var appErr *errors.AppError
	if stderrors.As(err, &appErr) && appErr.UserMessage != "" {
		return appErr.UserMessage
	}
	return err.Error()
}

func (d *Dispatcher) recordLog(ctx context.Context, accountID int64, batchID string, device models.Device, to, body string, sendErr error) {
	entry := &models.MessageLog{
		AccountID: accountID,
		BatchID:   batchID,
		SentFrom:  device.PhoneNumber,
		SentTo:    to,
		Message:   body,
		Status:    models.DeliveryStatusSent,
	}
	if sendErr != nil {
		entry.Status = models.DeliveryStatusFailed
		entry.FailureReason = failureReason(sendErr)
	}
	if err := d.logs.InsertMessageLog(ctx, entry); err != nil {
		d.logger.WithError(err).WithFields(logrus.Fields{
			LogFieldAccountID: accountID,
			LogFieldBatchID:   batchID,
		}).Error("Failed to write message log")
	}
}

// bulkPlan is everything a background batch needs, captured at acceptance.
type bulkPlan struct {
	id           string
	accountID    int64
	destinations []string
	body         string
	devices      []models.Device
	perDevice    int
	switchDelay  time.Duration
}

// SendBulk validates the request, snapshots the ready devices, reserves
// quota for every destination at once and then returns while the batch runs
// in the background. It is rejected once Shutdown has begun.
func (d *Dispatcher) SendBulk(ctx context.Context, accountID int64, numbers, body string) (*BulkAccepted, error) {
	if !d.track() {
		return nil, errors.NewShuttingDownError()
	}
	started := false
	defer func() {
		if !started {
			d.wg.Done()
		}
	}()

	destinations, err := validation.ParseDestinations(numbers)
	if err != nil {
		return nil, err
	}
	if len(destinations) > constants.MaxBulkDestinations {
		return nil, errors.NewValidationError("numbers", "", fmt.Sprintf("too many destinations (max %d)", constants.MaxBulkDestinations))
	}
	if err := validateBody(body); err != nil {
		return nil, err
	}

	account, err := d.accounts.GetAccount(ctx, accountID)
	if err != nil {
		return nil, errors.NewDatabaseError("get account", err)
	}
	if account == nil {
		return nil, errors.NewNotFoundError("account", fmt.Sprint(accountID))
	}

	ready, err := d.devices.ListReadyDevices(ctx, accountID)
	if err != nil {
		return nil, errors.NewDatabaseError("list ready devices", err)
	}
	if len(ready) == 0 {
		return nil, errors.NewNoActiveDeviceError()
	}

	if err := d.ledger.Reserve(ctx, accountID, len(destinations)); err != nil {
		return nil, err
	}

	perDevice := account.MessagesPerDevice
	if perDevice <= 0 {
		perDevice = 1
	}
	switchDelay := time.Duration(account.DeviceSwitchDelaySeconds) * time.Second
	if switchDelay < 0 {
		switchDelay = 0
	}

	batchCtx, cancel := context.WithCancel(WithVerboseLogging(d.rootCtx, d.verbose.Load()))
	plan := bulkPlan{
		accountID:    accountID,
		destinations: destinations,
		body:         body,
		devices:      ready,
		perDevice:    perDevice,
		switchDelay:  switchDelay,
	}
	plan.id = d.batches.Register(accountID, len(destinations), cancel)

	started = true
	go d.runBatch(batchCtx, plan)

	d.logger.WithFields(logrus.Fields{
		LogFieldAccountID: accountID,
		LogFieldBatchID:   plan.id,
		LogFieldCount:     len(destinations),
		"devices":         len(ready),
	}).Info("Bulk send accepted")

	return &BulkAccepted{BatchID: plan.id, Accepted: len(destinations)}, nil
}

// track registers one more background batch unless Shutdown has begun.
func (d *Dispatcher) track() bool {
	d.runMu.Lock()
	defer d.runMu.Unlock()
	if d.closed {
		return false
	}
	d.wg.Add(1)
	return true
}

// runBatch walks the destinations in order. Each device handles perDevice
// consecutive items, then the batch waits switchDelay and moves to the next
// device in the snapshot, wrapping around.
func (d *Dispatcher) runBatch(ctx context.Context, plan bulkPlan) {
	defer d.wg.Done()
	defer d.batches.finish(plan.id)

	log := d.logger.WithFields(logrus.Fields{
		LogFieldAccountID: plan.accountID,
		LogFieldBatchID:   plan.id,
	})
	log.Info("Starting bulk send")
	start := time.Now()

	idx := 0
	onDevice := 0
	for i, to := range plan.destinations {
		if ctx.Err() != nil {
			log.WithField(LogFieldItemIndex, i).Info("Bulk send cancelled")
			return
		}

		if !d.processItem(ctx, plan, i, plan.devices[idx], to) {
			log.WithField(LogFieldItemIndex, i).Info("Bulk send cancelled")
			return
		}
		// Every attempted item counts toward rotation: sent, failed and
		// skipped alike.
		onDevice++

		if onDevice >= plan.perDevice && i < len(plan.destinations)-1 {
			if err := d.sleep(ctx, plan.switchDelay); err != nil {
				log.WithField(LogFieldItemIndex, i).Info("Bulk send cancelled during device switch")
				return
			}
			idx = (idx + 1) % len(plan.devices)
			onDevice = 0
			log.WithField(LogFieldDeviceIndex, idx).Debug("Switched bulk device")
		}
	}

	log.WithField(LogFieldDuration, time.Since(start).Milliseconds()).Info("Bulk send completed")
}

// processItem handles one destination. It returns false only when the batch
// was cancelled before the item was attempted. A send already handed to the
// provider runs to completion under the send timeout even if the batch is
// cancelled meanwhile.
func (d *Dispatcher) processItem(ctx context.Context, plan bulkPlan, i int, device models.Device, to string) bool {
	fields := logrus.Fields{
		LogFieldBatchID:     plan.id,
		LogFieldSession:     device.SessionID,
		LogFieldItemIndex:   i,
		LogFieldDestination: LoggablePhone(ctx, to),
	}

	client, ok := d.clients.Get(device.SessionID)
	if !ok {
		err := errors.NewClientUnavailableError(device.SessionID)
		d.errLog.LogWarn(err, "Skipping bulk item: device client unavailable", fields)
		d.recordLog(ctx, plan.accountID, plan.id, device, to, plan.body, err)
		d.batches.record(plan.id, outcomeSkipped)
		return true
	}

	pacing, limiter := d.snapshot()
	if err := d.sleep(ctx, d.jitter(pacing)); err != nil {
		return false
	}
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return false
		}
	}

	itemCtx := context.WithoutCancel(ctx)
	err := d.send(itemCtx, client, device, to, plan.body, pacing.SendTimeout)
	d.recordLog(itemCtx, plan.accountID, plan.id, device, to, plan.body, err)
	if err != nil {
		d.errLog.LogWarn(err, "Bulk item failed", fields)
		d.batches.record(plan.id, outcomeFailed)
		return true
	}
	d.batches.record(plan.id, outcomeSent)
	return true
}

// BatchStatus returns the progress of one of the account's batches.
func (d *Dispatcher) BatchStatus(accountID int64, batchID string) (BatchStatus, error) {
	return d.batches.Get(accountID, batchID)
}

// CancelBatch stops one of the account's batches after its current item.
func (d *Dispatcher) CancelBatch(accountID int64, batchID string) (BatchStatus, error) {
	return d.batches.Cancel(accountID, batchID)
}

// Shutdown refuses new batches, cancels running ones and waits for them to
// stop.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.runMu.Lock()
	d.closed = true
	d.runMu.Unlock()
	d.rootCancel()
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
