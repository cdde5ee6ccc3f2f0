package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
)

const (
	sessionAttempts   = 5
	sessionTimeoutCap = 15 * time.Second
)

// SessionFunc runs inside one Firestore transaction. The transaction is also
// carried on fn's context, so BaseRepository mutations made anywhere below
// the call join it instead of writing directly.
type SessionFunc func(ctx context.Context, tx *firestore.Transaction) error

type sessionKey struct{}

// sessionTx returns the transaction the context is riding, if any.
func sessionTx(ctx context.Context) *firestore.Transaction {
	if ctx == nil {
		return nil
	}
	tx, _ := ctx.Value(sessionKey{}).(*firestore.Transaction)
	return tx
}

// RunSession executes fn as one atomic unit against the client. Every write
// issued through the session commits together or not at all; Firestore
// retries contention up to the attempt cap. The context is bounded so a
// stalled transaction cannot hold its locks indefinitely.
func RunSession(ctx context.Context, client *firestore.Client, fn SessionFunc) error {
	if client == nil {
		return WrapError("session", errors.New("firestore: client is nil"))
	}
	if fn == nil {
		return WrapError("session", errors.New("firestore: session function is nil"))
	}

	sessionCtx := ctx
	var cancel context.CancelFunc
	deadline, hasDeadline := ctx.Deadline()
	if !hasDeadline || time.Until(deadline) > sessionTimeoutCap {
		sessionCtx, cancel = context.WithTimeout(ctx, sessionTimeoutCap)
		defer cancel()
	}

	err := client.RunTransaction(sessionCtx, func(ctx context.Context, tx *firestore.Transaction) error {
		return fn(context.WithValue(ctx, sessionKey{}, tx), tx)
	}, firestore.MaxAttempts(sessionAttempts))

	return WrapError("session", err)
}
