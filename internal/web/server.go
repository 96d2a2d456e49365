package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/m4rkovic/crypto-trade/internal/domain"
	"github.com/m4rkovic/crypto-trade/internal/services/risk"
)

const tradePollInterval = 2 * time.Second

type tradeReader interface {
	RecordsAfter(index uint64) ([]domain.TradeRecordEntry, error)
}

type riskReader interface {
	Snapshot() risk.Status
}

// Server exposes HTTP endpoints serving the HTML UI, an SSE trade stream and
// the risk gate status.
type Server struct {
	Addr  string
	Store tradeReader
	Gate  riskReader
}

// NewServer creates a new web server instance.
func NewServer(addr string, store tradeReader, gate riskReader) *Server {
	return &Server{Addr: addr, Store: store, Gate: gate}
}

// Start runs the HTTP server (blocking) and shuts it down when ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/", s.handleIndex)
	mux.HandleFunc("/trades/stream", s.handleTradeStream)
	mux.HandleFunc("/risk/status", s.handleRiskStatus)

	server := &http.Server{
		Addr:              s.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, indexHTML)
}

func (s *Server) handleRiskStatus(w http.ResponseWriter, r *http.Request) {
	if s.Gate == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "risk gate not available")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.Gate.Snapshot()); err != nil {
		log.Printf("risk status encode: %v", err)
	}
}

func (s *Server) handleTradeStream(w http.ResponseWriter, r *http.Request) {
	if s.Store == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "trade store not available")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// send a comment heartbeat every 30s so proxies keep connection
	heartbeat := time.NewTicker(30 * time.Second)
	defer heartbeat.Stop()

	pollTicker := time.NewTicker(tradePollInterval)
	defer pollTicker.Stop()

	lastIndex := uint64(0)
	sendTrades := func() error {
		entries, err := s.Store.RecordsAfter(lastIndex)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			return nil
		}
		for _, entry := range entries {
			payload, err := json.Marshal(entry.Record)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "event: trade\n")
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
			lastIndex = entry.Index
		}
		return nil
	}

	if err := sendTrades(); err != nil {
		http.Error(w, "failed to load trades", http.StatusInternalServerError)
		log.Printf("trade stream initial load: %v", err)
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		case <-pollTicker.C:
			if err := sendTrades(); err != nil {
				log.Printf("trade stream poll err: %v", err)
			}
		}
	}
}

// Trade feed with a running risk panel.
const indexHTML = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <title>Arbitrage</title>
  <link rel="preconnect" href="https://fonts.googleapis.com">
  <link rel="preconnect" href="https://fonts.gstatic.com" crossorigin>
  <link href="https://fonts.googleapis.com/css2?family=Press+Start+2P&family=Space+Mono:wght@400;700&display=swap" rel="stylesheet">
  <style>
    :root {
      --bg:#ffffff;
      --ink:#111111;
      --ink-mid:#4d4d4d;
      --ink-soft:#9c9c9c;
      --panel:#f6f6f6;
    }
    * { box-sizing:border-box; }
    body {
      margin:0;
      min-height:100vh;
      display:flex;
      align-items:center;
      justify-content:center;
      padding:2rem;
      background:var(--bg);
      color:var(--ink);
      font-family:'Space Mono','JetBrains Mono',monospace;
    }
    #app {
      width:min(1200px, 96vw);
      background:var(--panel);
      border:3px solid var(--ink);
      padding:2rem;
      box-shadow:12px 12px 0 rgba(0,0,0,.15);
      display:grid;
      grid-template-columns:1fr 320px;
      gap:2rem;
    }
    header { display:flex; justify-content:space-between; align-items:flex-start; gap:1rem; grid-column:1 / -1; }
    .eyebrow {
      font-family:'Press Start 2P','Space Mono',monospace;
      font-size:.55rem;
      text-transform:uppercase;
      letter-spacing:.2em;
      margin:0;
    }
    .status {
      font-size:.65rem;
      text-transform:uppercase;
      letter-spacing:.1em;
      border:2px solid var(--ink);
      padding:.4rem .9rem;
      background:#ffffff;
      box-shadow:4px 4px 0 rgba(0,0,0,.15);
    }
    .trade-card {
      border:2px solid var(--ink);
      padding:1rem;
      margin-bottom:1rem;
      background:#fff;
      box-shadow:4px 4px 0 rgba(0,0,0,.12);
      font-size:.7rem;
      line-height:1.4;
    }
    .trade-header {
      display:flex;
      justify-content:space-between;
      margin-bottom:.6rem;
      padding-bottom:.6rem;
      border-bottom:1px dashed var(--ink-soft);
    }
    .outcome { font-weight:700; text-transform:uppercase; letter-spacing:.1em; }
    .outcome.filled { color:#1b9aaa; }
    .outcome.failed { color:#9c9c9c; }
    .outcome.neutralized { color:#ff7f11; }
    .outcome.neutralization_failed { color:#d7263d; }
    .pnl.positive { color:#1b9aaa; font-weight:700; }
    .pnl.negative { color:#d7263d; font-weight:700; }
    .risk-panel {
      border:3px solid var(--ink);
      padding:1.2rem;
      background:#fff;
      box-shadow:6px 6px 0 rgba(0,0,0,.12);
      align-self:start;
      font-size:.7rem;
    }
    .risk-panel h3 {
      font-family:'Press Start 2P','Space Mono',monospace;
      font-size:.6rem;
      text-transform:uppercase;
      letter-spacing:.15em;
      margin:0 0 1rem;
      padding-bottom:.8rem;
      border-bottom:2px solid var(--ink);
    }
    .risk-row { display:flex; justify-content:space-between; margin-bottom:.5rem; }
    .killswitch-on { color:#d7263d; font-weight:700; }
    .empty-state {
      border:2px dashed var(--ink-soft);
      padding:2rem;
      text-align:center;
      font-size:.8rem;
      letter-spacing:.12em;
      text-transform:uppercase;
      color:var(--ink-mid);
    }
    @media (max-width:640px) {
      body { padding:1rem; }
      #app { padding:1.2rem; grid-template-columns:1fr; }
    }
  </style>
</head>
<body>
  <div id="app">
    <header>
      <p class="eyebrow">arbitrage engine</p>
      <div id="sse-status" class="status">Connecting…</div>
    </header>
    <section id="trades">
      <div id="emptyState" class="empty-state">Waiting for trades…</div>
    </section>
    <aside class="risk-panel">
      <h3>Risk</h3>
      <div id="riskRows"></div>
    </aside>
  </div>
<script>
const statusEl = document.getElementById('sse-status');
const tradesEl = document.getElementById('trades');
const emptyState = document.getElementById('emptyState');
const riskRows = document.getElementById('riskRows');
const MAX_TRADES = 50;

const formatTime = (ts) => {
  if(!ts) return '';
  const date = new Date(ts);
  if(Number.isNaN(date.getTime())) return '';
  return date.toLocaleTimeString([], { hour12:false });
};

function createTradeCard(trade){
  const card = document.createElement('div');
  card.className = 'trade-card';

  const header = document.createElement('div');
  header.className = 'trade-header';

  const outcome = document.createElement('span');
  outcome.className = 'outcome ' + trade.outcome;
  outcome.textContent = trade.outcome.replace(/_/g, ' ');

  const time = document.createElement('span');
  time.textContent = formatTime(trade.ts);
  header.append(outcome, time);
  card.appendChild(header);

  const route = document.createElement('div');
  route.textContent = trade.pair + ': buy ' + trade.buy_venue + ' @ ' + trade.real_buy_price +
    ', sell ' + trade.sell_venue + ' @ ' + trade.real_sell_price + ', qty ' + trade.qty;
  card.appendChild(route);

  const pnl = document.createElement('div');
  const pnlNum = parseFloat(trade.realized_pnl);
  pnl.className = 'pnl ' + (pnlNum >= 0 ? 'positive' : 'negative');
  pnl.textContent = 'PnL: ' + trade.realized_pnl + ' (latency ' + trade.latency_ms + 'ms)';
  card.appendChild(pnl);

  return card;
}

function connectSSE(){
  const source = new EventSource('/trades/stream');
  statusEl.textContent = 'Status: receiving data';
  source.addEventListener('trade', (event) => {
    try{
      const trade = JSON.parse(event.data);
      if(emptyState && emptyState.parentNode){ emptyState.remove(); }
      tradesEl.insertBefore(createTradeCard(trade), tradesEl.firstChild);
      while(tradesEl.children.length > MAX_TRADES){
        tradesEl.removeChild(tradesEl.lastChild);
      }
    }catch(err){
      console.error('trade parse', err);
    }
  });
  source.addEventListener('error', () => {
    statusEl.textContent = 'Reconnecting…';
    source.close();
    setTimeout(connectSSE, 2000);
  });
}

function pollRisk(){
  fetch('/risk/status').then(r => r.json()).then(status => {
    riskRows.innerHTML = '';
    const rows = [
      ['Session PnL', status.session_pnl],
      ['Attempts', status.attempts],
      ['Successes', status.successes],
      ['Failures', status.failures],
      ['Consecutive fails', status.consecutive_fails],
      ['Kill-switch', status.kill_switch ? 'ENGAGED' : 'off']
    ];
    rows.forEach(([label, value]) => {
      const row = document.createElement('div');
      row.className = 'risk-row';
      const l = document.createElement('span');
      l.textContent = label;
      const v = document.createElement('span');
      v.textContent = value;
      if(label === 'Kill-switch' && status.kill_switch){ v.className = 'killswitch-on'; }
      row.append(l, v);
      riskRows.appendChild(row);
    });
  }).catch(() => {});
}

connectSSE();
pollRisk();
setInterval(pollRisk, 3000);
</script>
</body>
</html>`
