// Package coordinator orchestrates one sync cycle per mailbox: load,
// decrypt, fetch, classify/thread/persist each message in order, then
// checkpoint. Cross-mailbox concurrency is bounded by a worker pool; a
// per-mailbox mutex enforces at most one in-flight sync per mailbox.
package coordinator

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/Atharva-Werulkar/mailsuite-backend/internal/bounce"
	"github.com/Atharva-Werulkar/mailsuite-backend/internal/classify"
	"github.com/Atharva-Werulkar/mailsuite-backend/internal/common"
	"github.com/Atharva-Werulkar/mailsuite-backend/internal/crypto"
	"github.com/Atharva-Werulkar/mailsuite-backend/internal/imapfetch"
	"github.com/Atharva-Werulkar/mailsuite-backend/internal/logging"
	"github.com/Atharva-Werulkar/mailsuite-backend/internal/model"
	"github.com/Atharva-Werulkar/mailsuite-backend/internal/persist"
	"github.com/Atharva-Werulkar/mailsuite-backend/internal/reliability"
	"github.com/Atharva-Werulkar/mailsuite-backend/internal/store"
	"github.com/Atharva-Werulkar/mailsuite-backend/internal/thread"
)

// FetchFunc lets tests substitute a fake fetcher for imapfetch.Fetch.
type FetchFunc func(ctx context.Context, target imapfetch.Target, lastUID uint32, opts imapfetch.Options) (imapfetch.Result, error)

// Config carries the tunables the coordinator draws from configuration.
type Config struct {
	BatchSize     int
	SinceDays     int
	WorkerPool    int
	Timeouts      reliability.TimeoutConfig
	SubjectThread bool
}

// Coordinator runs sync cycles across mailboxes.
type Coordinator struct {
	store     store.Store
	decryptor crypto.Decryptor
	fetch     FetchFunc
	resolver  *thread.Resolver
	persister *persist.Persister
	cfg       Config
	log       zerolog.Logger
	sanitizer logging.Sanitizer

	sem       *semaphore.Weighted
	mailboxMu sync.Map // mailbox id -> *sync.Mutex
}

// New constructs a Coordinator. fetch defaults to imapfetch.Fetch when nil.
// sanitizer masks addresses embedded in warn/error log lines that carry
// message content (from-address, username) before they reach the sink.
func New(st store.Store, dec crypto.Decryptor, fetch FetchFunc, cfg Config, log zerolog.Logger, sanitizer logging.Sanitizer) *Coordinator {
	if fetch == nil {
		fetch = imapfetch.Fetch
	}
	if cfg.WorkerPool < 1 {
		cfg.WorkerPool = 1
	}
	resolver := thread.New(st, cfg.SubjectThread)
	return &Coordinator{
		store:     st,
		decryptor: dec,
		fetch:     fetch,
		resolver:  resolver,
		persister: persist.New(st, resolver, nil),
		cfg:       cfg,
		log:       logging.Component(log, "coordinator"),
		sanitizer: sanitizer,
		sem:       semaphore.NewWeighted(int64(cfg.WorkerPool)),
	}
}

func (c *Coordinator) mutexFor(mailboxID string) *sync.Mutex {
	v, _ := c.mailboxMu.LoadOrStore(mailboxID, &sync.Mutex{})
	return v.(*sync.Mutex)
}

// Sync implements the per-mailbox algorithm: load, decrypt, fetch,
// process each message in UID order, checkpoint.
func (c *Coordinator) Sync(ctx context.Context, mailboxID string) error {
	mu := c.mutexFor(mailboxID)
	if !mu.TryLock() {
		c.log.Debug().Str("mailbox_id", mailboxID).Msg("sync already in flight, dropping trigger")
		return nil
	}
	defer mu.Unlock()

	mailbox, err := c.store.GetMailbox(ctx, mailboxID)
	if err != nil {
		return err
	}
	if mailbox == nil || mailbox.Status != model.MailboxActive {
		return nil
	}

	log := c.log.With().Str("mailbox_id", mailboxID).Logger()

	password, err := c.decryptor.Decrypt(mailbox.EncryptedPassword)
	if err != nil {
		log.Error().Err(err).Msg("credential decryption failed")
		c.markError(ctx, mailbox, "credential decryption failed")
		return nil
	}

	target := imapfetch.Target{
		Host:     mailbox.Host,
		Port:     mailbox.Port,
		Username: mailbox.Username,
		Password: password,
	}
	opts := imapfetch.Options{
		BatchSize: c.cfg.BatchSize,
		SinceDays: c.cfg.SinceDays,
		Timeouts:  c.cfg.Timeouts,
	}

	result, err := c.fetch(ctx, target, mailbox.LastSyncedUID, opts)
	if err != nil {
		log.Error().Err(err).Str("username", c.sanitizer.MaskEmail(target.Username)).Msg("fetch failed")
		if model.IsFatal(err) {
			c.markError(ctx, mailbox, err.Error())
			return nil
		}
		// Transient: leave status ACTIVE so the next cycle retries, but
		// still record what happened for operators to see.
		return c.store.UpdateMailbox(ctx, mailboxID, model.MailboxUpdate{LastError: strPtr(err.Error())})
	}

	if len(result.Messages) == 0 {
		return c.touch(ctx, mailboxID)
	}

	maxUID := mailbox.LastSyncedUID
	sawFailure := false

	for _, msg := range result.Messages {
		if err := c.processOne(ctx, mailbox, msg); err != nil {
			if model.IsTransient(err) {
				log.Error().Err(err).Uint32("uid", msg.UID).Msg("store unavailable, aborting cycle")
				return c.store.UpdateMailbox(ctx, mailboxID, model.MailboxUpdate{
					LastSyncedUID: &maxUID,
					LastError:     strPtr(err.Error()),
				})
			}
			log.Warn().Err(err).Uint32("uid", msg.UID).Str("from", c.sanitizer.MaskEmail(msg.From.Addr)).Msg("per-message processing failed")
			sawFailure = true
			continue
		}
		if !sawFailure && msg.UID > maxUID {
			maxUID = msg.UID
		}
	}

	now := time.Now()
	status := model.MailboxActive
	return c.store.UpdateMailbox(ctx, mailboxID, model.MailboxUpdate{
		LastSyncedUID: &maxUID,
		LastSyncedAt:  &now,
		Status:        &status,
		LastError:     strPtr(""),
	})
}

func (c *Coordinator) processOne(ctx context.Context, mailbox *model.Mailbox, msg model.RawMessage) error {
	category, confidence := classify.Classify(msg)

	threadID, err := c.resolver.Resolve(ctx, mailbox.ID, mailbox.UserID, msg)
	if err != nil {
		return err
	}

	var bounceResult *model.BounceParseResult
	if category == model.CategoryBounce {
		r := bounce.Parse(msg)
		bounceResult = &r
	}

	return c.persister.Persist(ctx, persist.Input{
		Mailbox:    mailbox,
		Raw:        msg,
		Category:   category,
		Confidence: confidence,
		ThreadID:   threadID,
		Bounce:     bounceResult,
	})
}

func (c *Coordinator) markError(ctx context.Context, mailbox *model.Mailbox, reason string) {
	status := model.MailboxError
	_ = c.store.UpdateMailbox(ctx, mailbox.ID, model.MailboxUpdate{
		Status:    &status,
		LastError: &reason,
	})
}

func (c *Coordinator) touch(ctx context.Context, mailboxID string) error {
	now := time.Now()
	return c.store.UpdateMailbox(ctx, mailboxID, model.MailboxUpdate{LastSyncedAt: &now})
}

func strPtr(s string) *string { return &s }

// RunOnce runs one cycle across every ACTIVE mailbox, bounded by the
// worker pool.
func (c *Coordinator) RunOnce(ctx context.Context, mailboxIDs []string) {
	var wg sync.WaitGroup
	for _, id := range mailboxIDs {
		if err := c.sem.Acquire(ctx, 1); err != nil {
			return
		}
		wg.Add(1)
		go func(mailboxID string) {
			defer wg.Done()
			defer c.sem.Release(1)
			panicCh := make(chan error, 1)
			defer func() {
				select {
				case err := <-panicCh:
					c.log.Error().Err(err).Str("mailbox_id", mailboxID).Msg("sync goroutine panicked, other mailboxes unaffected")
				default:
				}
			}()
			defer common.RecoverToError(panicCh)
			if err := c.Sync(ctx, mailboxID); err != nil {
				c.log.Error().Err(err).Str("mailbox_id", mailboxID).Msg("sync cycle errored")
			}
		}(id)
	}
	wg.Wait()
}

// RunLoop fires RunOnce every interval until ctx is cancelled. listMailboxes
// is called fresh at the start of each cycle so newly-added mailboxes are
// picked up without a restart. An in-flight cycle is allowed to finish
// before the loop observes cancellation.
func (c *Coordinator) RunLoop(ctx context.Context, interval time.Duration, listMailboxes func(context.Context) ([]string, error)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Cycles run on a context detached from ctx's cancellation, so a
	// cancellation mid-cycle does not fail the cycle's IMAP and store calls.
	cycleCtx := context.WithoutCancel(ctx)
	runCycle := func() {
		ids, err := listMailboxes(cycleCtx)
		if err != nil {
			c.log.Error().Err(err).Msg("listing mailboxes failed")
			return
		}
		c.RunOnce(cycleCtx, ids)
	}

	runCycle()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			runCycle()
		}
	}
}
