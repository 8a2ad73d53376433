package dashboard

// indexHTML is a minimal live view: chart list, latest reports and events
// over the WebSocket feed.
const indexHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>spcwatch</title>
<style>
body { font-family: sans-serif; margin: 20px; background: #f5f5f5; }
.card { background: white; padding: 12px 16px; margin-bottom: 12px; border-radius: 4px; }
.critical { color: #c0392b; } .high { color: #d35400; } .medium { color: #b7950b; } .low { color: #7f8c8d; }
table { border-collapse: collapse; } td, th { padding: 2px 8px; text-align: left; }
</style>
</head>
<body>
<h1>spcwatch</h1>
<div class="card"><h2>Charts</h2><table id="charts"></table></div>
<div class="card"><h2>Events</h2><ul id="events"></ul></div>
<script>
const charts = {};
function render() {
  const rows = Object.values(charts).map(c =>
    '<tr><td>' + c.name + '</td><td>' + (c.last ?? '') + '</td><td>' + c.totalViolations + ' violations</td></tr>');
  document.getElementById('charts').innerHTML = '<tr><th>Chart</th><th>Last</th><th>Status</th></tr>' + rows.join('');
}
function addEvent(e) {
  const li = document.createElement('li');
  li.className = e.severity || '';
  li.textContent = new Date(e.timestamp).toLocaleTimeString() + ' [' + e.chart + '] ' + e.message;
  const list = document.getElementById('events');
  list.prepend(li);
  while (list.children.length > 50) list.lastChild.remove();
}
fetch('/api/charts').then(r => r.json()).then(b => { (b.data || []).forEach(c => charts[c.name] = c); render(); });
const ws = new WebSocket((location.protocol === 'https:' ? 'wss://' : 'ws://') + location.host + '/ws');
ws.onmessage = m => {
  const msg = JSON.parse(m.data);
  if (msg.type === 'report') { charts[msg.data.name] = msg.data; render(); }
  if (msg.type === 'event') addEvent(msg.data);
};
</script>
</body>
</html>
`
