package channel

import (
	"context"
	"time"
)

// scheduleReconnectLocked enters the reconnecting state and arms the first
// backoff timer. Re-entry while a reconnection is already underway is a
// no-op, and an intentional disconnect never reaches here.
func (c *Client) scheduleReconnectLocked() {
	if c.state == StateReconnecting {
		return
	}
	if c.session == nil || c.session.intentional {
		return
	}
	c.state = StateReconnecting
	c.armReconnectLocked()
}

// armReconnectLocked schedules a single reopen attempt after the current
// backoff delay, or gives up once the attempt ceiling is reached.
func (c *Client) armReconnectLocked() {
	if c.attempts >= c.opts.MaxReconnects {
		c.giveUpLocked()
		return
	}

	delay := backoffDelay(c.attempts, c.opts.BackoffBase, c.opts.BackoffCap)
	c.attempts++

	c.logger.Info().
		Int("attempt", c.attempts).
		Int("max", c.opts.MaxReconnects).
		Dur("delay", delay).
		Msg("scheduling reconnection attempt")

	c.reconnectTimer = time.AfterFunc(delay, c.attemptReconnect)
}

// backoffDelay computes min(base * 2^attempts, cap)
func backoffDelay(attempts int, base, cap time.Duration) time.Duration {
	if attempts >= 32 {
		return cap
	}
	delay := base << uint(attempts)
	if delay <= 0 || delay > cap {
		return cap
	}
	return delay
}

// attemptReconnect performs one reopen attempt. On success it resets the
// backoff, restarts the heartbeat and replays unacknowledged commands; on
// failure it re-arms the backoff timer.
func (c *Client) attemptReconnect() {
	c.mutex.Lock()
	if c.state != StateReconnecting || c.session == nil || c.session.intentional {
		c.mutex.Unlock()
		return
	}
	c.reconnectTimer = nil
	url := c.session.url
	channelName := c.session.channel
	c.mutex.Unlock()

	err := c.open(context.Background(), url, channelName)

	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.state != StateReconnecting || c.session == nil || c.session.intentional {
		// Torn down while dialing; open refuses to register a connection for
		// an intentionally closed session, so nothing leaks.
		return
	}
	if err != nil {
		c.logger.Warn().
			Err(err).
			Int("attempt", c.attempts).
			Msg("reconnection attempt failed")
		c.armReconnectLocked()
		return
	}

	c.state = StateConnected
	c.session.connected = true
	c.attempts = 0
	c.stats.Reconnects++
	c.startHeartbeatLocked()
	c.logger.Info().
		Str("channel", channelName).
		Msg("channel reconnected")
	c.resendQueuedLocked()
}

// giveUpLocked transitions to GivenUp after the backoff ceiling: everything
// outstanding is terminally rejected and no further attempt is scheduled
// until the caller connects again.
func (c *Client) giveUpLocked() {
	c.state = StateGivenUp
	if c.session != nil {
		c.session.connected = false
	}
	c.logger.Error().
		Int("attempts", c.attempts).
		Msg("reconnection attempts exhausted, giving up")
	c.rejectAllLocked(ErrMaxReconnect)
}
