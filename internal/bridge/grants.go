package bridge

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// grantTTL is how long an attach token waits to be redeemed.
const grantTTL = time.Minute

type grant struct {
	pluginID string
	expires  time.Time
}

// grants holds one-time bridge tokens handed out by /surfaces/attach.
type grants struct {
	mu    sync.Mutex
	byTok map[string]grant
	now   func() time.Time
	ttl   time.Duration
}

func newGrants() *grants {
	return &grants{byTok: make(map[string]grant), now: time.Now, ttl: grantTTL}
}

// issue returns a token that binds a connection to pluginID. An empty
// pluginID yields an unbound connection.
func (g *grants) issue(pluginID string) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	for tok, gr := range g.byTok {
		if now.After(gr.expires) {
			delete(g.byTok, tok)
		}
	}
	tok := uuid.NewString()
	g.byTok[tok] = grant{pluginID: pluginID, expires: now.Add(g.ttl)}
	return tok
}

// redeem consumes tok. It fails for unknown, used and expired tokens.
func (g *grants) redeem(tok string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	gr, ok := g.byTok[tok]
	if !ok {
		return "", false
	}
	delete(g.byTok, tok)
	if g.now().After(gr.expires) {
		return "", false
	}
	return gr.pluginID, true
}
