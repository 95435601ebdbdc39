package channel

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// startHeartbeatLocked launches the liveness monitor for the current
// connection. The monitor's lifetime is bound to one connection epoch; it is
// cancelled on disconnect and on connection loss.
func (c *Client) startHeartbeatLocked() {
	ctx, cancel := context.WithCancel(context.Background())
	c.hbCancel = cancel
	pong := make(chan struct{}, 1)
	c.hbPong = pong
	go c.heartbeatLoop(ctx, c.conn, c.connEpoch, pong)
}

// stopHeartbeatLocked cancels the running monitor, if any
func (c *Client) stopHeartbeatLocked() {
	if c.hbCancel != nil {
		c.hbCancel()
		c.hbCancel = nil
	}
	c.hbPong = nil
}

// noteHeartbeatPong is invoked by the transport's pong handler
func (c *Client) noteHeartbeatPong(epoch int) {
	c.mutex.Lock()
	pong := c.hbPong
	valid := epoch == c.connEpoch && pong != nil
	c.mutex.Unlock()
	if !valid {
		return
	}
	select {
	case pong <- struct{}{}:
	default:
	}
}

// heartbeatLoop probes the connection at every interval and waits for the
// matching reply. A probe that goes unanswered within the reply timeout
// force-terminates the connection: a half-open connection hides failures
// from the reconnection controller, so it is escalated to a hard close.
func (c *Client) heartbeatLoop(ctx context.Context, conn Conn, epoch int, pong chan struct{}) {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		// Discard a reply left over from a previous probe.
		select {
		case <-pong:
		default:
		}

		if err := conn.Ping(time.Now().Add(c.opts.HeartbeatTimeout)); err != nil {
			c.forceTerminate(conn, epoch, fmt.Errorf("liveness probe failed: %w", err))
			return
		}

		timer := time.NewTimer(c.opts.HeartbeatTimeout)
		select {
		case <-pong:
			timer.Stop()
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			c.forceTerminate(conn, epoch, errors.New("liveness probe unanswered"))
			return
		}
	}
}

// forceTerminate hard-closes a connection that stopped delivering data. The
// read loop observes the close and treats it as an unintentional disconnect.
func (c *Client) forceTerminate(conn Conn, epoch int, cause error) {
	c.mutex.Lock()
	if epoch != c.connEpoch {
		c.mutex.Unlock()
		return
	}
	c.stats.HeartbeatKills++
	c.mutex.Unlock()

	c.logger.Warn().
		Err(cause).
		Msg("force-terminating unresponsive connection")
	conn.Close()
}
