package surface

// registryJS is prepended to every page function. It keeps a per-document
// registry mapping elements to "<token>:<n>" ids (WeakMap) and ids back to
// elements (WeakRef), so repeated snapshots hand out the same id for the
// same element.
const registryJS = `
	const reg = (() => {
		const w = window;
		if (!w.__autolistenRegistry) {
			w.__autolistenRegistry = {
				token: token + '-' + Math.floor(performance.timeOrigin).toString(36),
				seq: 0,
				ids: new WeakMap(),
				refs: new Map(),
			};
		}
		return w.__autolistenRegistry;
	})();
	const idOf = (el) => {
		let id = reg.ids.get(el);
		if (!id) {
			reg.seq += 1;
			id = reg.token + ':' + reg.seq;
			reg.ids.set(el, id);
			reg.refs.set(id, new WeakRef(el));
		}
		return id;
	};
	const resolve = (id) => {
		const ref = reg.refs.get(id);
		const el = ref ? ref.deref() : undefined;
		if (!el || !el.isConnected) return null;
		return el;
	};
	const isVisible = (el) => {
		if (!el || el.getClientRects().length === 0) return false;
		if (el.offsetParent !== null) return true;
		return window.getComputedStyle(el).position === 'fixed';
	};
`

const snapshotJS = `(token, cfg) => {` + registryJS + `
	for (const [id, ref] of reg.refs) {
		if (!ref.deref()) reg.refs.delete(id);
	}
	const listen = cfg.listen || [];
	const secondary = cfg.secondary || [];
	const controls = [];
	const classified = new Set();
	document.querySelectorAll('button[aria-label], [role="button"][aria-label]').forEach((el) => {
		const label = el.getAttribute('aria-label') || '';
		let kind = '';
		if (listen.includes(label)) kind = 'listen';
		else if (secondary.includes(label)) kind = 'secondary';
		if (!kind) return;
		classified.add(el);
		if (!isVisible(el)) return;
		controls.push({ id: idOf(el), kind, label });
	});
	const generating = (cfg.stop || []).some((sel) => {
		try {
			return Array.from(document.querySelectorAll(sel)).some((el) => !classified.has(el));
		} catch (e) {
			return false;
		}
	});
	let playing = false;
	try {
		playing = Array.from(document.querySelectorAll('audio, video'))
			.some((m) => !m.paused && !m.ended && m.currentTime > 0);
		if (!playing && window.speechSynthesis) playing = window.speechSynthesis.speaking;
	} catch (e) {}
	return {
		controls,
		generating,
		playing,
		foreground: document.visibilityState === 'visible',
		identity: location.href,
	};
}`

const inspectJS = `(token, id) => {` + registryJS + `
	const el = resolve(id);
	if (!el) return { exists: false, visible: false, label: '' };
	return { exists: true, visible: isVisible(el), label: el.getAttribute('aria-label') || '' };
}`

const pressJS = `(token, id) => {` + registryJS + `
	const el = resolve(id);
	if (!el) return false;
	try { el.focus({ preventScroll: true }); } catch (e) {}
	el.scrollIntoView({ block: 'center', behavior: 'instant' });
	const opts = { bubbles: true, cancelable: true, view: window };
	el.dispatchEvent(new MouseEvent('mousedown', opts));
	el.dispatchEvent(new MouseEvent('mouseup', opts));
	el.dispatchEvent(new MouseEvent('click', opts));
	return true;
}`

const identityJS = `() => location.href`

// observerJS installs one MutationObserver per document that calls the CDP
// binding, coalescing bursts into a single notification.
const observerJS = `(binding) => {
	const w = window;
	if (w.__autolistenObserver) return true;
	let pending = false;
	const notify = () => {
		if (pending) return;
		pending = true;
		setTimeout(() => {
			pending = false;
			try { w[binding]('mutation'); } catch (e) {}
		}, 50);
	};
	const start = () => {
		const root = document.documentElement || document.body;
		if (!root) return false;
		const obs = new MutationObserver(notify);
		obs.observe(root, {
			childList: true,
			subtree: true,
			attributes: true,
			attributeFilter: ['aria-label', 'class', 'style', 'hidden'],
		});
		w.__autolistenObserver = obs;
		return true;
	};
	if (!start()) document.addEventListener('DOMContentLoaded', start, { once: true });
	document.addEventListener('visibilitychange', notify);
	return true;
}`
