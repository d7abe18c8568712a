// Package auth selects the credentials sent to the analysis API. Sources are
// tried in a fixed order: a locally signed JWT, a token from the remote auth
// service, the raw shared secret, and finally no credentials at all.
package auth

import (
	"context"
	"time"

	"github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/logging"
	"github.com/vigneshpalanivelr/extract-build-logs-sub000/pkg/types"
)

// Stage names recorded on delivery attempts
const (
	StageJWT          = "auth:jwt"
	StageTokenService = "auth:token_service"
	StageSecret       = "auth:secret"
	StageNone         = "auth:none"
)

const (
	warnRawSecret       = "using raw shared secret as bearer token"
	warnUnauthenticated = "no credentials configured, sending unauthenticated"
	notConfigured       = "not configured"
)

// Credential is the result of the chain. Bearer is empty when unauthenticated.
type Credential struct {
	Bearer string
	Stage  string
}

// Authenticated reports whether a bearer value was selected
func (c Credential) Authenticated() bool {
	return c.Bearer != ""
}

// Chain evaluates the credential sources in priority order
type Chain struct {
	signer *Signer
	tokens *TokenClient
	secret string
	now    func() time.Time
	logger *logging.Logger
}

// NewChain creates a chain. Any source may be absent: a nil signer, a nil
// token client or an empty secret.
func NewChain(signer *Signer, tokens *TokenClient, secret string) *Chain {
	return &Chain{
		signer: signer,
		tokens: tokens,
		secret: secret,
		now:    time.Now,
		logger: logging.GetLogger(),
	}
}

// Authorize picks the first working credential. Every stage evaluated,
// including stages that are not configured, is returned as an attempt.
func (c *Chain) Authorize(ctx context.Context) (Credential, []types.DeliveryAttempt) {
	var attempts []types.DeliveryAttempt

	if c.signer == nil {
		attempts = append(attempts, c.skipped(StageJWT))
	} else {
		start := c.now()
		token, _, err := c.signer.Sign()
		attempts = append(attempts, c.record(ctx, StageJWT, start, err, ""))
		if err == nil {
			return Credential{Bearer: token, Stage: StageJWT}, attempts
		}
	}

	if c.tokens == nil {
		attempts = append(attempts, c.skipped(StageTokenService))
	} else {
		start := c.now()
		token, err := c.tokens.Token(ctx)
		attempts = append(attempts, c.record(ctx, StageTokenService, start, err, ""))
		if err == nil {
			return Credential{Bearer: token, Stage: StageTokenService}, attempts
		}
	}

	if c.secret != "" {
		attempts = append(attempts, c.record(ctx, StageSecret, c.now(), nil, warnRawSecret))
		c.logger.WithContext(ctx).Warn(warnRawSecret)
		return Credential{Bearer: c.secret, Stage: StageSecret}, attempts
	}
	attempts = append(attempts, c.skipped(StageSecret))

	attempts = append(attempts, c.record(ctx, StageNone, c.now(), nil, warnUnauthenticated))
	c.logger.WithContext(ctx).Warn(warnUnauthenticated)
	return Credential{Stage: StageNone}, attempts
}

// InvalidateCachedToken drops the remote token, e.g. after the API rejected it
func (c *Chain) InvalidateCachedToken(ctx context.Context) {
	if c.tokens != nil {
		c.tokens.cache.Invalidate(ctx)
	}
}

func (c *Chain) record(ctx context.Context, stage string, start time.Time, err error, warning string) types.DeliveryAttempt {
	attempt := types.DeliveryAttempt{
		Sink:     types.SinkAPI,
		Stage:    stage,
		Outcome:  types.OutcomeSuccess,
		Duration: c.now().Sub(start),
		Warning:  warning,
		At:       start,
	}
	if err != nil {
		attempt.Outcome = types.OutcomeFailure
		attempt.Error = err.Error()
	}

	c.logger.LogDeliveryAttempt(ctx, attempt.Sink, stage, attempt.Outcome, 0, attempt.Duration, attempt.Error)
	return attempt
}

func (c *Chain) skipped(stage string) types.DeliveryAttempt {
	return types.DeliveryAttempt{
		Sink:    types.SinkAPI,
		Stage:   stage,
		Outcome: types.OutcomeSkipped,
		Error:   notConfigured,
		At:      c.now(),
	}
}
