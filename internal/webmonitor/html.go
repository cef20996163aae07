package webmonitor

const indexHTML = `<!DOCTYPE html>
<html>
<head>
    <title>WeFit Rep Counter</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
        body { margin: 0; font-family: system-ui, sans-serif; background: #111; color: #eee; }
        .app { max-width: 1100px; margin: 0 auto; padding: 16px; }
        .header { display: flex; justify-content: space-between; align-items: center; }
        .title { font-size: 1.6rem; font-weight: 600; }
        .badge { padding: 4px 10px; border-radius: 12px; background: #444; font-size: 0.85rem; }
        .badge.live { background: #1f7a3a; }
        .badge.down { background: #8a2c2c; }
        .grid { display: grid; grid-template-columns: 2fr 1fr; gap: 16px; margin-top: 16px; }
        .panel { background: #1c1c1c; border-radius: 8px; padding: 12px; }
        #stream { width: 100%; border-radius: 6px; background: #000; }
        .field { display: flex; justify-content: space-between; padding: 8px 0; border-bottom: 1px solid #333; }
        .field .label { color: #999; }
        .field .value { font-size: 1.3rem; font-variant-numeric: tabular-nums; }
        #reps { font-size: 2.6rem; font-weight: 700; }
        button { margin-top: 16px; width: 100%; padding: 10px; border: 0; border-radius: 6px; background: #b33; color: #fff; font-size: 1rem; cursor: pointer; }
        button:disabled { background: #555; cursor: default; }
        table { width: 100%; border-collapse: collapse; font-size: 0.85rem; }
        th, td { text-align: left; padding: 4px 6px; border-bottom: 1px solid #333; }
    </style>
</head>
<body>
    <div class="app">
        <div class="header">
            <div class="title">WeFit Squat Counter</div>
            <span class="badge" id="status-badge">Waiting for data...</span>
        </div>

        <div class="grid">
            <div class="panel">
                <img id="stream" src="/stream" alt="Live feed">
            </div>
            <div class="panel">
                <div class="field"><span class="label">Reps</span><span class="value" id="reps">0</span></div>
                <div class="field"><span class="label">Date</span><span class="value" id="date">-</span></div>
                <div class="field"><span class="label">Time</span><span class="value" id="time">-</span></div>
                <div class="field"><span class="label">Level</span><span class="value" id="level">-</span></div>
                <div class="field"><span class="label">Squat Angle</span><span class="value" id="angle">-</span></div>
                <div class="field"><span class="label">Phase</span><span class="value" id="phase">-</span></div>
                <button type="button" id="stop">Interrupt Script</button>
            </div>
        </div>

        <div class="panel" style="margin-top:16px;">
            <h3>Training log</h3>
            <table>
                <thead><tr><th>Reps</th><th>Date</th><th>Time</th><th>Level</th><th>Angle</th></tr></thead>
                <tbody id="history"></tbody>
            </table>
        </div>
    </div>

    <script>
    (function () {
        const $ = (id) => document.getElementById(id);
        const badge = $('status-badge');

        function render(s) {
            $('reps').textContent = s.reps;
            $('date').textContent = s.date;
            $('time').textContent = s.time;
            $('level').textContent = s.level;
            $('angle').textContent = s.derived_angle === null ? '-' : Math.round(s.derived_angle);
            $('phase').textContent = s.phase;
        }

        const events = new EventSource('/api/status/stream');
        events.onopen = () => { badge.textContent = 'Live'; badge.className = 'badge live'; };
        events.onerror = () => { badge.textContent = 'Disconnected'; badge.className = 'badge down'; };
        events.onmessage = (e) => render(JSON.parse(e.data));

        function loadHistory() {
            fetch('/api/history?limit=20').then((r) => r.ok ? r.json() : null).then((body) => {
                if (!body) return;
                const tbody = $('history');
                tbody.innerHTML = '';
                for (const row of body.rows) {
                    const tr = document.createElement('tr');
                    for (const v of [row.reps, row.date, row.time, row.level, row.angle]) {
                        const td = document.createElement('td');
                        td.textContent = v;
                        tr.appendChild(td);
                    }
                    tbody.appendChild(tr);
                }
            }).catch(() => {});
        }
        loadHistory();
        setInterval(loadHistory, 30000);

        $('stop').addEventListener('click', () => {
            $('stop').disabled = true;
            fetch('/api/session/stop', { method: 'POST' }).then(() => {
                badge.textContent = 'Stopped';
                badge.className = 'badge down';
                events.close();
            });
        });
    })();
    </script>
</body>
</html>
`
