package webmonitor

const indexHTML = `<!DOCTYPE html>
<html>
<head>
    <title>Vision HUD Monitor</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
        :root { --bg: #05080a; --panel: #0d1418; --fg: #c8ffe0; --accent: #00ff8c; --warn: #ffb400; --crit: #ff3c3c; }
        body { margin: 0; background: var(--bg); color: var(--fg); font-family: ui-monospace, Menlo, monospace; }
        .app { display: grid; grid-template-columns: minmax(0, 3fr) minmax(260px, 1fr); gap: 12px; padding: 12px; }
        .panel { background: var(--panel); border: 1px solid #1c2a30; border-radius: 6px; padding: 10px; }
        .header { grid-column: 1 / -1; display: flex; justify-content: space-between; align-items: center; }
        .title { font-size: 18px; color: var(--accent); letter-spacing: 2px; }
        #stream { width: 100%; height: auto; display: block; background: #000; }
        button { background: #132026; color: var(--fg); border: 1px solid #24404a; padding: 4px 10px; cursor: pointer; font-family: inherit; }
        button.active { border-color: var(--accent); color: var(--accent); }
        .row { display: flex; gap: 6px; flex-wrap: wrap; margin: 8px 0; }
        .entity { border-bottom: 1px solid #1c2a30; padding: 6px 0; font-size: 12px; }
        .tier-HIGH { color: var(--crit); } .tier-MED { color: var(--warn); } .tier-LOW { color: var(--accent); }
        .muted { color: #5f7a80; }
    </style>
</head>
<body>
    <div class="app">
        <div class="header">
            <div class="title">VISION HUD</div>
            <span class="muted" id="status-badge">Waiting for data...</span>
        </div>

        <div class="panel">
            <img id="stream" src="/stream" alt="HUD stream">
            <div class="row" id="modes"></div>
            <div class="row">
                <button type="button" id="btn-start">Start camera</button>
                <button type="button" id="btn-stop">Stop camera</button>
                <button type="button" id="btn-rec">Record detections</button>
            </div>
        </div>

        <div class="panel">
            <h3>Entities</h3>
            <div id="entities" class="muted">none</div>
            <h3>Pipeline</h3>
            <pre id="pipeline" class="muted"></pre>
        </div>
    </div>

    <script>
    const $ = (id) => document.getElementById(id);
    const post = (url, body) => fetch(url, {
        method: 'POST',
        headers: {'Content-Type': 'application/json'},
        body: JSON.stringify(body || {}),
    }).then((r) => r.json());

    function renderModes(payload) {
        const el = $('modes');
        el.innerHTML = '';
        payload.modes.forEach((m) => {
            const b = document.createElement('button');
            b.textContent = m.toUpperCase();
            if (m === payload.mode) b.className = 'active';
            b.onclick = () => post('/api/mode', {mode: m}).then(renderModes);
            el.appendChild(b);
        });
    }

    function renderEntities(ev) {
        const el = $('entities');
        if (!ev.entities.length) { el.textContent = 'none'; return; }
        el.innerHTML = ev.entities.map((e) =>
            '<div class="entity"><span class="tier-' + e.tier + '">#' + e.id + ' ' + e.label.toUpperCase() +
            ' THREAT ' + e.tier + '</span> ' + e.state + ' life=' + e.life +
            (e.moving ? ' MOVING' : ' STATIC') +
            (e.distance_m ? ' ' + e.distance_m.toFixed(1) + 'm' : '') +
            '<div class="muted">' + (e.analyzing ? 'ANALYZING...' : (e.description || '')) + '</div></div>'
        ).join('');
    }

    function renderStatus(st) {
        const s = st.session;
        $('status-badge').textContent = (s.running ? 'RUNNING' : 'STOPPED') +
            ' | ' + s.entities + ' entities | frame ' + s.frame_number;
        $('pipeline').textContent = JSON.stringify(st.pipeline || {}, null, 1);
        $('btn-rec').textContent = st.recording && st.recording.recording ? 'Stop recording' : 'Record detections';
    }

    fetch('/api/mode').then((r) => r.json()).then(renderModes);
    new EventSource('/api/entities/stream').onmessage = (m) => renderEntities(JSON.parse(m.data));
    new EventSource('/api/status/stream').onmessage = (m) => renderStatus(JSON.parse(m.data));

    $('btn-start').onclick = () => post('/api/camera/start');
    $('btn-stop').onclick = () => post('/api/camera/stop');
    $('btn-rec').onclick = () => fetch('/api/recording/status').then((r) => r.json()).then((st) =>
        post(st.recording ? '/api/recording/stop' : '/api/recording/start'));
    </script>
</body>
</html>
`
