package httpapi

import (
	"fmt"
	"net/http"
)

const dashboardHTML = `<!doctype html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>FieldSync Agent Console</title>
  <style>
    :root {
      --ink: #1b2430;
      --paper: #f5f6f2;
      --card: #ffffff;
      --line: #d4d9cd;
      --accent: #2e7d5b;
      --accent-2: #d98e32;
      --danger: #b4403a;
      --muted: #6d7a72;
    }

    * { box-sizing: border-box; }

    body {
      margin: 0;
      font-family: "Segoe UI", "Avenir Next", sans-serif;
      color: var(--ink);
      background: linear-gradient(150deg, #f7f9f4 0%, #eef3ee 55%, #fbfbf8 100%);
      min-height: 100vh;
      padding: 20px;
    }

    .shell { max-width: 1080px; margin: 0 auto; display: grid; gap: 14px; }

    .bar {
      background: var(--card);
      border: 1px solid var(--line);
      border-radius: 14px;
      padding: 16px;
      box-shadow: 0 10px 22px rgba(27, 36, 48, 0.08);
    }

    h1 { margin: 0; font-size: 1.4rem; letter-spacing: 0.02em; }
    .sub { margin-top: 6px; color: var(--muted); font-size: 0.9rem; }

    .controls { display: grid; gap: 10px; grid-template-columns: 1.4fr 0.8fr 0.5fr 0.5fr; margin-top: 12px; }
    .controls input {
      width: 100%; border-radius: 8px; border: 1px solid var(--line);
      padding: 10px 12px; font-size: 0.92rem; outline: none;
    }
    .controls input:focus { border-color: var(--accent); }

    button {
      border: 0; border-radius: 8px; padding: 10px 12px; font-family: inherit;
      font-weight: 700; cursor: pointer;
    }
    .btn-primary { background: var(--accent); color: #fff; }
    .btn-secondary { background: #edf0e9; color: var(--ink); border: 1px solid var(--line); }

    .cards { display: grid; gap: 10px; grid-template-columns: repeat(6, minmax(110px, 1fr)); }
    .card {
      background: var(--card); border: 1px solid var(--line); border-radius: 12px;
      padding: 12px; min-height: 76px;
    }
    .label { text-transform: uppercase; letter-spacing: 0.08em; font-size: 0.64rem; color: var(--muted); }
    .value { margin-top: 6px; font-size: 1.1rem; font-weight: 700; }

    .panel {
      background: var(--card); border: 1px solid var(--line); border-radius: 14px;
      padding: 12px; min-height: 220px;
    }
    .panel h2 { margin: 0 0 10px; font-size: 0.9rem; letter-spacing: 0.06em; text-transform: uppercase; }

    table { width: 100%; border-collapse: collapse; font-size: 0.84rem; }
    th, td { text-align: left; border-bottom: 1px solid #e6e9e0; padding: 7px 6px; vertical-align: top; }
    th { color: var(--muted); text-transform: uppercase; font-size: 0.68rem; letter-spacing: 0.08em; }

    .status-draft { color: var(--muted); }
    .status-queued { color: var(--accent-2); }
    .status-syncing { color: var(--accent-2); font-style: italic; }
    .status-synced { color: var(--accent); }
    .status-failed { color: var(--danger); }

    .status-line { margin-top: 10px; font-size: 0.84rem; color: var(--muted); display: flex; gap: 12px; flex-wrap: wrap; }
    .mono { font-family: Menlo, Consolas, monospace; }
    .ok { color: var(--accent); }
    .warn { color: var(--accent-2); }
    .err { color: var(--danger); }

    @media (max-width: 900px) {
      .controls { grid-template-columns: 1fr 1fr; }
      .cards { grid-template-columns: repeat(3, minmax(110px, 1fr)); }
    }
  </style>
</head>
<body>
  <main class="shell">
    <section class="bar">
      <h1>FieldSync Agent Console</h1>
      <div class="sub">Offline submission queue, sync health and network state for one field agent.</div>
      <div class="controls">
        <input id="token" type="password" placeholder="Bearer token (applications:read + sync:trigger)" autocomplete="off" />
        <input id="agent" type="text" placeholder="agent id" autocomplete="off" />
        <button id="refresh" class="btn-primary" type="button">Refresh</button>
        <button id="syncNow" class="btn-secondary" type="button">Sync Now</button>
      </div>
      <div class="status-line">
        <span>Network: <span id="network" class="mono">-</span></span>
        <span>Last: <span id="lastUpdated">never</span></span>
        <span id="statusMessage">idle</span>
      </div>
    </section>

    <section class="cards">
      <article class="card"><div class="label">Total</div><div id="total" class="value">-</div></article>
      <article class="card"><div class="label">Drafts</div><div id="drafts" class="value">-</div></article>
      <article class="card"><div class="label">Queued</div><div id="queued" class="value">-</div></article>
      <article class="card"><div class="label">Failed</div><div id="failed" class="value">-</div></article>
      <article class="card"><div class="label">Synced</div><div id="synced" class="value">-</div></article>
      <article class="card"><div class="label">Last Sync</div><div id="lastSync" class="value mono">-</div></article>
    </section>

    <section class="panel">
      <h2>Applications</h2>
      <table>
        <thead>
          <tr>
            <th>Application</th>
            <th>Status</th>
            <th>Last Modified</th>
            <th>Last Attempt</th>
            <th>Error</th>
          </tr>
        </thead>
        <tbody id="rows"></tbody>
      </table>
    </section>
  </main>

  <script>
    (function () {
      const dom = {
        token: document.getElementById("token"),
        agent: document.getElementById("agent"),
        refresh: document.getElementById("refresh"),
        syncNow: document.getElementById("syncNow"),
        network: document.getElementById("network"),
        lastUpdated: document.getElementById("lastUpdated"),
        statusMessage: document.getElementById("statusMessage"),
        total: document.getElementById("total"),
        drafts: document.getElementById("drafts"),
        queued: document.getElementById("queued"),
        failed: document.getElementById("failed"),
        synced: document.getElementById("synced"),
        lastSync: document.getElementById("lastSync"),
        rows: document.getElementById("rows"),
      };

      function cid() {
        return "dash_" + Date.now() + "_" + Math.random().toString(16).slice(2, 8);
      }

      function setStatus(text, cls) {
        dom.statusMessage.textContent = text;
        dom.statusMessage.className = cls || "";
      }

      async function request(path, options) {
        const token = dom.token.value.trim();
        if (!token) {
          throw new Error("missing token");
        }
        const response = await fetch(window.location.origin + path, Object.assign({
          headers: {
            "Authorization": "Bearer " + token,
            "X-Correlation-Id": cid(),
          },
        }, options || {}));
        const data = await response.json();
        if (!response.ok) {
          throw new Error(response.status + " " + (data.code || "error") + ": " + (data.message || ""));
        }
        return data;
      }

      function renderRows(items) {
        dom.rows.innerHTML = "";
        if (!Array.isArray(items) || items.length === 0) {
          const tr = document.createElement("tr");
          tr.innerHTML = "<td colspan=\"5\">No applications</td>";
          dom.rows.appendChild(tr);
          return;
        }
        items.forEach((record) => {
          const tr = document.createElement("tr");
          const status = String(record.status || "-");
          tr.innerHTML =
            "<td class=\"mono\">" + String(record.applicationId || "-") + "</td>" +
            "<td class=\"status-" + status + "\">" + status + "</td>" +
            "<td>" + String(record.lastModified || "-") + "</td>" +
            "<td>" + String(record.lastSyncAttempt || "-") + "</td>" +
            "<td>" + String(record.syncError || "") + "</td>";
          dom.rows.appendChild(tr);
        });
      }

      async function refresh() {
        const agent = dom.agent.value.trim();
        if (!agent) {
          setStatus("enter agent id", "warn");
          return;
        }
        setStatus("refreshing...", "warn");
        try {
          const [stats, list, network] = await Promise.all([
            request("/v1/agents/" + encodeURIComponent(agent) + "/stats"),
            request("/v1/agents/" + encodeURIComponent(agent) + "/applications"),
            request("/v1/network"),
          ]);
          dom.total.textContent = String(stats.total || 0);
          dom.drafts.textContent = String(stats.drafts || 0);
          dom.queued.textContent = String(stats.queued || 0);
          dom.failed.textContent = String(stats.failed || 0);
          dom.synced.textContent = String(stats.synced || 0);
          dom.network.textContent = network.online ? "online" : "offline";
          dom.network.className = "mono " + (network.online ? "ok" : "err");
          renderRows(list.items || []);
          dom.lastUpdated.textContent = new Date().toLocaleTimeString();
          setStatus("ok", "ok");
          window.localStorage.setItem("fieldsync_dashboard_token", dom.token.value.trim());
          window.localStorage.setItem("fieldsync_dashboard_agent", agent);
        } catch (err) {
          setStatus(String(err && err.message ? err.message : err), "err");
        }
      }

      async function syncNow() {
        setStatus("syncing...", "warn");
        try {
          const result = await request("/v1/sync", { method: "POST" });
          dom.lastSync.textContent = String(result.successful || 0) + "/" + String(result.processed || 0);
          await refresh();
        } catch (err) {
          setStatus(String(err && err.message ? err.message : err), "err");
        }
      }

      function connectEvents() {
        const token = dom.token.value.trim();
        if (!token || !window.WebSocket) {
          return;
        }
        const scheme = window.location.protocol === "https:" ? "wss:" : "ws:";
        const socket = new WebSocket(scheme + "//" + window.location.host + "/v1/events?access_token=" + encodeURIComponent(token));
        socket.onmessage = function (message) {
          try {
            const event = JSON.parse(message.data);
            if (event.type === "syncCompleted" && event.result) {
              dom.lastSync.textContent = String(event.result.successful || 0) + "/" + String(event.result.processed || 0);
              refresh();
            }
          } catch (err) {
            // ignore malformed frames
          }
        };
      }

      dom.refresh.addEventListener("click", refresh);
      dom.syncNow.addEventListener("click", syncNow);
      dom.token.addEventListener("change", function () { refresh(); connectEvents(); });
      dom.agent.addEventListener("change", refresh);

      dom.token.value = window.localStorage.getItem("fieldsync_dashboard_token") || "";
      dom.agent.value = window.localStorage.getItem("fieldsync_dashboard_agent") || "";
      if (dom.token.value) {
        refresh();
        connectEvents();
      } else {
        setStatus("enter token to start", "warn");
      }
    })();
  </script>
</body>
</html>`

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusNotFound, "not_found", "route not found", getCorrelationID(r))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = fmt.Fprint(w, dashboardHTML)
}
