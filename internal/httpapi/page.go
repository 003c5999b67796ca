package httpapi

import (
	"net/http"
	"strings"
)

const dashboardPageHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>Credit Desk Chat Audit</title>
  <style>
    :root {
      --ink: #16212b;
      --paper: #f6f7fb;
      --card: #ffffff;
      --line: #d9dee8;
      --accent: #2b6cb0;
      --accent-2: #38a169;
      --danger: #c53030;
      --muted: #68778a;
      --shadow: 0 14px 30px rgba(22, 33, 43, 0.12);
    }

    * { box-sizing: border-box; }

    body {
      margin: 0;
      font-family: "Inter", "Segoe UI", sans-serif;
      color: var(--ink);
      background: linear-gradient(150deg, #f8fafc 0%, #eef2f9 55%, #f6f7fb 100%);
      min-height: 100vh;
      padding: 20px;
    }

    .shell {
      max-width: 1080px;
      margin: 0 auto;
      display: grid;
      gap: 14px;
    }

    .bar {
      background: var(--card);
      border: 1px solid var(--line);
      border-radius: 14px;
      padding: 16px;
      box-shadow: var(--shadow);
    }

    h1 { margin: 0; font-size: 1.4rem; }
    .sub { margin-top: 6px; color: var(--muted); font-size: 0.9rem; }

    .controls {
      display: grid;
      gap: 10px;
      grid-template-columns: 1.4fr 0.5fr 0.5fr;
      margin-top: 12px;
    }

    .controls input {
      width: 100%;
      border-radius: 10px;
      border: 1px solid var(--line);
      padding: 10px 12px;
      font-size: 0.92rem;
      outline: none;
    }

    button {
      border: 0;
      border-radius: 10px;
      padding: 10px 12px;
      font-family: inherit;
      font-weight: 600;
      cursor: pointer;
    }

    .btn-primary { background: var(--accent); color: #ffffff; }
    .btn-secondary { background: #e9edf4; color: var(--ink); border: 1px solid var(--line); }
    .btn-danger { background: var(--danger); color: #ffffff; }

    .cards {
      display: grid;
      gap: 14px;
      grid-template-columns: repeat(auto-fit, minmax(230px, 1fr));
    }

    .card {
      background: var(--card);
      border: 1px solid var(--line);
      border-radius: 14px;
      padding: 16px;
      box-shadow: var(--shadow);
    }

    .card h2 { margin: 0 0 8px; font-size: 0.95rem; color: var(--muted); }
    .metric { font-size: 1.8rem; font-weight: 700; }
    .ok { color: var(--accent-2); }
    .bad { color: var(--danger); }
    .hidden { display: none; }

    .notice {
      border-radius: 14px;
      border: 1px solid var(--line);
      padding: 20px;
      background: #fff8f4;
      box-shadow: var(--shadow);
    }
    .notice h2 { margin-top: 0; }
    .notice .actions { display: flex; gap: 10px; margin-top: 14px; }

    pre {
      margin: 0;
      font-size: 0.8rem;
      overflow: auto;
      max-height: 320px;
      background: #0f1720;
      color: #d7e3f1;
      border-radius: 10px;
      padding: 12px;
    }
  </style>
</head>
<body>
  <div class="shell">
    <div class="bar">
      <h1>Credit Desk Chat Audit</h1>
      <div class="sub">Message isolation diagnostics and team dashboard</div>
      <div class="controls">
        <input id="token" type="password" placeholder="bearer token (credit role)" />
        <button class="btn-primary" id="loginBtn">Use token</button>
        <button class="btn-secondary" id="refreshBtn">Refresh</button>
      </div>
    </div>

    <div class="notice hidden" id="errorView">
      <h2>Something went wrong</h2>
      <div class="sub" id="errorDetail"></div>
      <div class="actions">
        <button class="btn-primary" id="retryBtn">Retry</button>
        <button class="btn-secondary" id="reloginBtn">Change token</button>
      </div>
    </div>

    <div class="notice hidden" id="deniedView">
      <h2>Access denied</h2>
      <div class="sub">This dashboard requires the credit role. Nothing to see here.</div>
    </div>

    <div class="cards hidden" id="content">
      <div class="card"><h2>Page state</h2><div class="metric" id="pageState">-</div></div>
      <div class="card"><h2>Stored messages</h2><div class="metric" id="messages">-</div></div>
      <div class="card"><h2>Distinct queries</h2><div class="metric" id="queries">-</div></div>
      <div class="card"><h2>Sync cycles</h2><div class="metric" id="cycles">-</div></div>
      <div class="card"><h2>Consecutive failures</h2><div class="metric" id="failures">-</div></div>
      <div class="card"><h2>Generated</h2><div class="metric" id="generatedAt" style="font-size:1rem">-</div></div>
    </div>

    <div class="card hidden" id="devtools">
      <h2>Inspector</h2>
      <div class="sub">Raw snapshot and request log (non-production builds only)</div>
      <pre id="inspector">{}</pre>
    </div>
  </div>

  <script>
    (function () {
      var TEAM = 'credit';
      var SHOW_DEVTOOLS = __SHOW_DEVTOOLS__;
      var MAX_RETRIES = 3;
      var MAX_BACKOFF_MS = 30000;
      var AUTO_SYNC_MS = 60000;

      var autoSyncHandle = null;
      var requestLog = [];

      function token() { return localStorage.getItem('chataudit_token') || ''; }

      function backoffDelay(attempt) {
        var delay = 1000 * Math.pow(2, attempt);
        return Math.min(delay, MAX_BACKOFF_MS);
      }

      // Reads retry on transport errors and 5xx up to MAX_RETRIES with
      // exponential backoff. A 4xx never improves on retry, so it is
      // surfaced immediately. Mutations get exactly one attempt.
      async function fetchJSON(path, options, allowRetry) {
        var attempt = 0;
        for (;;) {
          var response = null;
          var failure = null;
          try {
            response = await fetch(path, Object.assign({
              headers: {
                'Authorization': 'Bearer ' + token(),
                'X-Correlation-Id': 'dash_' + Date.now()
              }
            }, options || {}));
          } catch (err) {
            failure = err;
          }
          requestLog.push({ path: path, at: new Date().toISOString(), status: response ? response.status : 'network-error' });
          if (requestLog.length > 20) requestLog.shift();

          if (response && response.ok) return response.json();
          if (response && response.status >= 400 && response.status < 500) {
            var e = new Error('http ' + response.status);
            e.status = response.status;
            throw e;
          }
          if (!allowRetry || attempt >= MAX_RETRIES) {
            throw failure || new Error('http ' + (response ? response.status : 0));
          }
          await new Promise(function (resolve) { setTimeout(resolve, backoffDelay(attempt)); });
          attempt++;
        }
      }

      function show(id, visible) {
        document.getElementById(id).classList.toggle('hidden', !visible);
      }

      function renderSnapshot(snapshot) {
        show('deniedView', false);
        show('errorView', snapshot.pageState === 'errored');
        show('content', true);
        document.getElementById('pageState').textContent = snapshot.pageState;
        document.getElementById('pageState').className = 'metric ' + (snapshot.pageState === 'normal' ? 'ok' : 'bad');
        document.getElementById('messages').textContent = snapshot.store.messages;
        document.getElementById('queries').textContent = snapshot.store.queries;
        document.getElementById('cycles').textContent = snapshot.sync ? snapshot.sync.cycles : 0;
        document.getElementById('failures').textContent = snapshot.sync ? snapshot.sync.consecutiveFailures : 0;
        document.getElementById('generatedAt').textContent = snapshot.generatedAt;
        if (SHOW_DEVTOOLS) {
          show('devtools', true);
          document.getElementById('inspector').textContent =
            JSON.stringify({ snapshot: snapshot, requests: requestLog }, null, 2);
        }
      }

      async function refresh() {
        if (!token()) {
          show('content', false);
          show('deniedView', true);
          return;
        }
        try {
          var snapshot = await fetchJSON('/v1/teams/' + TEAM + '/dashboard', { method: 'GET' }, true);
          renderSnapshot(snapshot);
        } catch (err) {
          if (err.status === 401 || err.status === 403) {
            show('content', false);
            show('errorView', false);
            show('deniedView', true);
            return;
          }
          document.getElementById('errorDetail').textContent = String(err);
          show('errorView', true);
        }
      }

      async function retry() {
        try {
          // Mutations are never retried automatically.
          await fetchJSON('/v1/teams/' + TEAM + '/dashboard/retry', { method: 'POST' }, false);
        } catch (err) {
          document.getElementById('errorDetail').textContent = String(err);
          show('errorView', true);
          return;
        }
        show('errorView', false);
        refresh();
      }

      function startAutoSync() {
        stopAutoSync();
        autoSyncHandle = setInterval(refresh, AUTO_SYNC_MS);
      }

      function stopAutoSync() {
        if (autoSyncHandle !== null) {
          clearInterval(autoSyncHandle);
          autoSyncHandle = null;
        }
      }

      document.getElementById('loginBtn').addEventListener('click', function () {
        var value = document.getElementById('token').value.trim();
        if (value) localStorage.setItem('chataudit_token', value);
        refresh();
      });
      document.getElementById('reloginBtn').addEventListener('click', function () {
        localStorage.removeItem('chataudit_token');
        show('errorView', false);
        show('content', false);
        show('deniedView', true);
      });
      document.getElementById('refreshBtn').addEventListener('click', refresh);
      document.getElementById('retryBtn').addEventListener('click', retry);

      // Data is treated as always stale: any focus triggers a refetch.
      window.addEventListener('focus', refresh);
      window.addEventListener('beforeunload', stopAutoSync);

      refresh();
      startAutoSync();
    })();
  </script>
</body>
</html>
`

func (s *Server) handleDashboardPage(w http.ResponseWriter, _ *http.Request) {
	showDevtools := "false"
	if s.cfg.Environment != "production" {
		showDevtools = "true"
	}
	page := strings.Replace(dashboardPageHTML, "__SHOW_DEVTOOLS__", showDevtools, 1)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(page))
}
