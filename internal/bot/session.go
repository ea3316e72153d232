package bot

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gotd/td/session"
	"github.com/gotd/td/telegram"
	"github.com/gotd/td/telegram/dcs"
	"github.com/gotd/td/tg"
	"github.com/gotd/td/tgerr"
)

// ErrSessionFailure covers any failure to establish a media session, whether
// dialing the datacenter or exchanging authorization.
var ErrSessionFailure = errors.New("session failure")

const (
	authExchangeAttempts = 6
	authTransportDelay   = 2 * time.Second
	sessionDialTimeout   = 20 * time.Second
)

type sessionKey struct {
	worker uint32
	dc     int
}

// MediaSession returns a *tg.Client usable to download media stored on the
// given datacenter, reusing worker's own connection when the datacenter
// matches its home DC, and otherwise caching a dedicated cross-DC client for
// the remainder of the process lifetime.
func (r *Registry) MediaSession(ctx context.Context, w *Worker, dcID int) (*tg.Client, error) {
	key := sessionKey{worker: w.Index, dc: dcID}

	r.sessMu.Lock()
	if api, ok := r.sessions[key]; ok {
		r.sessMu.Unlock()
		return api, nil
	}
	r.sessMu.Unlock()

	if dcID == w.HomeDC {
		api := w.Client.API()
		r.sessMu.Lock()
		r.sessions[key] = api
		r.sessMu.Unlock()
		return api, nil
	}

	api, err := r.exchangeAuthorization(ctx, w, dcID)
	if err != nil {
		return nil, err
	}
	r.sessMu.Lock()
	r.sessions[key] = api
	r.sessMu.Unlock()
	return api, nil
}

// exchangeAuthorization dials a fresh client pinned to dcID and imports an
// authorization exported from w's home-DC session, retrying up to
// authExchangeAttempts times: an AUTH_BYTES_INVALID response is retried
// immediately (the export is simply reissued), any other error waits
// authTransportDelay before the next attempt.
func (r *Registry) exchangeAuthorization(ctx context.Context, w *Worker, dcID int) (*tg.Client, error) {
	client := telegram.NewClient(r.apiID, r.apiHash, telegram.Options{
		DC:             dcID,
		DCList:         dcs.List(false),
		SessionStorage: new(session.StorageMemory),
	})

	connected := make(chan struct{})
	runErr := make(chan error, 1)
	runCtx, cancelRun := context.WithCancel(r.ctx)
	go func() {
		runErr <- client.Run(runCtx, func(inner context.Context) error {
			close(connected)
			<-inner.Done()
			return nil
		})
	}()

	dialCtx, cancelDial := context.WithTimeout(ctx, sessionDialTimeout)
	defer cancelDial()
	select {
	case <-connected:
	case err := <-runErr:
		cancelRun()
		return nil, fmt.Errorf("%w: dial DC%d: %v", ErrSessionFailure, dcID, err)
	case <-dialCtx.Done():
		cancelRun()
		return nil, fmt.Errorf("%w: dial DC%d: %v", ErrSessionFailure, dcID, dialCtx.Err())
	}

	var lastErr error
	op := func() error {
		exported, err := w.Client.API().AuthExportAuthorization(ctx, &tg.AuthExportAuthorizationRequest{DCID: dcID})
		if err != nil {
			lastErr = err
			return err
		}
		_, err = client.API().AuthImportAuthorization(ctx, &tg.AuthImportAuthorizationRequest{
			ID:    exported.ID,
			Bytes: exported.Bytes,
		})
		if err != nil {
			lastErr = err
			return err
		}
		return nil
	}

	policy := backoff.WithMaxRetries(&authRetryBackoff{delay: authTransportDelay, lastErr: &lastErr}, authExchangeAttempts-1)
	if err := backoff.Retry(op, policy); err != nil {
		cancelRun()
		return nil, fmt.Errorf("%w: authorization exchange with DC%d exhausted %d attempts: %v",
			ErrSessionFailure, dcID, authExchangeAttempts, lastErr)
	}
	return client.API(), nil
}

// authRetryBackoff is a constant backoff that collapses to zero delay the
// instant lastErr is AUTH_BYTES_INVALID: Telegram returns that error when
// the exported authorization already expired, so reissuing the export right
// away is strictly better than waiting out the normal transport delay.
type authRetryBackoff struct {
	delay   time.Duration
	lastErr *error
}

func (b *authRetryBackoff) NextBackOff() time.Duration {
	if tgerr.Is(*b.lastErr, "AUTH_BYTES_INVALID") {
		return 0
	}
	return b.delay
}

func (b *authRetryBackoff) Reset() {}
