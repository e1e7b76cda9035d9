package dashboard

import "net/http"

func (h *Handler) handleDashboard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write([]byte(dashboardHTML))
}

const dashboardHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>sharedstore</title>
<style>
  :root {
    --bg: #0d1117;
    --surface: #161b22;
    --border: #30363d;
    --text: #e6edf3;
    --text-dim: #8b949e;
    --accent: #58a6ff;
    --green: #3fb950;
    --yellow: #d29922;
  }
  body { background: var(--bg); color: var(--text); font: 14px/1.5 -apple-system, BlinkMacSystemFont, "Segoe UI", sans-serif; margin: 0; padding: 24px; }
  header { display: flex; align-items: center; gap: 16px; margin-bottom: 16px; }
  h1 { font-size: 18px; margin: 0; }
  .pill { border: 1px solid var(--border); border-radius: 12px; padding: 2px 10px; color: var(--text-dim); }
  .pill.idle { color: var(--green); }
  .pill.syncing { color: var(--yellow); }
  button { background: var(--surface); color: var(--accent); border: 1px solid var(--border); border-radius: 6px; padding: 4px 12px; cursor: pointer; }
  table { width: 100%; border-collapse: collapse; background: var(--surface); }
  th, td { text-align: left; padding: 6px 10px; border-bottom: 1px solid var(--border); }
  th { color: var(--text-dim); font-weight: 500; }
  td.id { color: var(--text-dim); font-family: monospace; }
</style>
</head>
<body>
<header>
  <h1 id="group">sharedstore</h1>
  <span class="pill" id="role"></span>
  <span class="pill" id="phase"></span>
  <span class="pill" id="count"></span>
  <button onclick="syncNow()">Sync now</button>
</header>
<table>
  <thead><tr><th>Name</th><th>Created</th><th>ID</th></tr></thead>
  <tbody id="records"></tbody>
</table>
<script>
function esc(s) {
  return String(s).replace(/[&<>"']/g, c => ({'&':'&amp;','<':'&lt;','>':'&gt;','"':'&quot;',"'":'&#39;'}[c]));
}

async function refresh() {
  try {
    const res = await fetch('/api/state');
    const data = await res.json();
    document.getElementById('group').textContent = data.group;
    document.getElementById('role').textContent = data.role;
    const phase = document.getElementById('phase');
    phase.textContent = data.sync_ready ? data.phase : 'sync disabled';
    phase.className = 'pill ' + data.phase;
    document.getElementById('count').textContent = data.count + ' records';
    document.getElementById('records').innerHTML = data.records.map(r =>
      '<tr><td>' + esc(r.name) + '</td><td title="' + esc(r.created) + '">' + esc(r.age) +
      '</td><td class="id">' + esc(r.id) + '</td></tr>').join('');
  } catch (e) {
    document.getElementById('phase').textContent = 'offline';
  }
}

async function syncNow() {
  await fetch('/api/sync', {method: 'POST'});
  refresh();
}

refresh();
setInterval(refresh, 2000);
</script>
</body>
</html>
`
