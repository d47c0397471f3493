package webdash

const indexPage = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<title>Stampede Live</title>
<style>
body { font-family: -apple-system, BlinkMacSystemFont, "Segoe UI", Roboto, sans-serif; background: #f5f5f5; margin: 0; padding: 20px; color: #333; }
h1 { margin-top: 0; }
.cards { display: grid; grid-template-columns: repeat(auto-fit, minmax(180px, 1fr)); gap: 16px; margin-bottom: 20px; }
.card { background: #fff; border-radius: 8px; padding: 16px; box-shadow: 0 1px 3px rgba(0,0,0,0.1); }
.label { font-size: 12px; color: #888; text-transform: uppercase; }
.value { font-size: 24px; font-weight: 600; margin-top: 4px; }
table { width: 100%; border-collapse: collapse; background: #fff; border-radius: 8px; }
th, td { text-align: left; padding: 8px 12px; border-bottom: 1px solid #eee; }
#status { font-size: 14px; color: #666; }
</style>
</head>
<body>
<h1>Stampede Live</h1>
<p id="status">connecting...</p>
<div class="cards">
  <div class="card"><div class="label">State</div><div class="value" id="state">-</div></div>
  <div class="card"><div class="label">Elapsed</div><div class="value" id="elapsed">-</div></div>
  <div class="card"><div class="label">Active</div><div class="value" id="active">-</div></div>
  <div class="card"><div class="label">Target</div><div class="value" id="target">-</div></div>
  <div class="card"><div class="label">Iterations</div><div class="value" id="iterations">-</div></div>
  <div class="card"><div class="label">Success</div><div class="value" id="success">-</div></div>
  <div class="card"><div class="label">Dropped</div><div class="value" id="dropped">-</div></div>
</div>
<table>
  <thead><tr><th>Metric</th><th>Count</th><th>Rate/s</th><th>P50</th><th>P95</th><th>P99</th><th>Max</th></tr></thead>
  <tbody id="metrics"></tbody>
</table>
<script>
function fmt(v) { return (v === undefined || v === null) ? '-' : Number(v).toFixed(2); }
function render(snap, final) {
  document.getElementById('state').textContent = final ? 'stopped' : snap.state;
  document.getElementById('elapsed').textContent = (snap.elapsed_ms / 1000).toFixed(1) + 's';
  document.getElementById('active').textContent = snap.active_concurrency;
  document.getElementById('target').textContent = fmt(snap.target);
  document.getElementById('dropped').textContent = snap.dropped || 0;
  var it = (snap.metrics || {}).iteration_duration || {};
  document.getElementById('iterations').textContent = it.count || 0;
  document.getElementById('success').textContent = ((it.success_rate || 0) * 100).toFixed(1) + '%';
  var rows = '';
  Object.keys(snap.metrics || {}).sort().forEach(function (name) {
    var m = snap.metrics[name];
    var iv = (snap.interval || {})[name] || {};
    rows += '<tr><td>' + name + '</td><td>' + m.count + '</td><td>' + fmt(iv.rate_per_sec) + '</td><td>' +
      fmt(m.p50) + '</td><td>' + fmt(m.p95) + '</td><td>' + fmt(m.p99) + '</td><td>' + fmt(m.max) + '</td></tr>';
  });
  document.getElementById('metrics').innerHTML = rows;
}
var proto = location.protocol === 'https:' ? 'wss://' : 'ws://';
var ws = new WebSocket(proto + location.host + '/ws');
ws.onopen = function () { document.getElementById('status').textContent = 'connected'; };
ws.onclose = function () { document.getElementById('status').textContent = 'disconnected'; };
ws.onmessage = function (ev) {
  var msg = JSON.parse(ev.data);
  if (msg.type === 'snapshot') { render(msg.snapshot, false); }
  if (msg.type === 'summary') { render(msg.summary, true); document.getElementById('status').textContent = 'run finished'; }
};
</script>
</body>
</html>
`
