package sandbox

import (
	"fmt"
	"html"
	"net/url"
	"strings"

	"github.com/bytedance/sonic"
)

// Element ids of the generated scripts. The frame treats the interceptor
// script as the point where egress capture switches on.
const (
	InterceptorScriptID = "egress-interceptor"
	TagLoaderScriptID   = "tag-manager-loader"
	TagNoscriptID       = "tag-manager-noscript"
	LearnerScriptID     = "learner-script"
)

// spyScript is the browser rendition of the interceptor. It patches the four
// egress primitives and relays allow-listed calls to the parent window.
const spyScript = `(function () {
  if (window.__egressInstalled) return;
  window.__egressInstalled = true;
  var allow = %s;
  function tracked(url) {
    url = String(url || '');
    for (var i = 0; i < allow.length; i++) {
      if (url.indexOf(allow[i]) !== -1) return true;
    }
    return false;
  }
  function relay(kind, method, url, body) {
    if (!tracked(url)) return;
    try {
      window.parent.postMessage({ type: 'network_proxy', data: {
        type: kind, method: String(method || 'GET').toUpperCase(), url: String(url), body: body
      } }, '*');
    } catch (e) {}
  }
  var fetch = window.fetch;
  if (fetch) {
    window.fetch = function (input, init) {
      var url = typeof input === 'string' ? input : (input && input.url);
      relay('fetch', init && init.method, url, init && init.body);
      return fetch.apply(this, arguments);
    };
  }
  var open = XMLHttpRequest.prototype.open;
  var send = XMLHttpRequest.prototype.send;
  XMLHttpRequest.prototype.open = function (method, url) {
    this.__egress = { method: method, url: url };
    return open.apply(this, arguments);
  };
  XMLHttpRequest.prototype.send = function (body) {
    var r = this.__egress;
    if (r && !r.sent) {
      r.sent = true;
      relay('xhr', r.method, r.url, body);
    }
    return send.apply(this, arguments);
  };
  if (navigator.sendBeacon) {
    var beacon = navigator.sendBeacon.bind(navigator);
    navigator.sendBeacon = function (url, data) {
      relay('beacon', 'POST', url, data);
      return beacon(url, data);
    };
  }
  if (window.HTMLImageElement) {
    var desc = Object.getOwnPropertyDescriptor(HTMLImageElement.prototype, 'src');
    if (desc && desc.set) {
      Object.defineProperty(HTMLImageElement.prototype, 'src', {
        configurable: true, enumerable: desc.enumerable, get: desc.get,
        set: function (v) { relay('image', 'GET', v); desc.set.call(this, v); }
      });
    }
  }
})();`

const tagLoaderScript = `(function (w, d, s, l, i) {
  w[l] = w[l] || [];
  w[l].push({ 'gtm.start': new Date().getTime(), event: 'gtm.js' });
  var f = d.getElementsByTagName(s)[0], j = d.createElement(s), dl = l != 'dataLayer' ? '&l=' + l : '';
  j.async = true;
  j.src = %s + '?id=' + i + dl;
  j.onload = function () { w.parent.postMessage({ type: 'gtm_status', status: 'active' }, '*'); };
  j.onerror = function () { w.parent.postMessage({ type: 'gtm_status', status: 'error' }, '*'); };
  f.parentNode.insertBefore(j, f);
})(window, document, 'script', 'dataLayer', %s);`

const learnerWrapper = `try {
%s
} catch (e) {
  console.error('Error in custom script:', e);
  window.parent.postMessage({ type: 'error', message: e && e.message ? e.message : String(e) }, '*');
}`

// BuildDocument assembles the isolated document for one render. Order is
// fixed: interceptor, tag loader, styles, noscript fallback, learner markup,
// learner script. The tag pieces only appear when tagID is set.
func BuildDocument(content Content, tagID string, cfg Config) string {
	cfg = cfg.withDefaults()
	var b strings.Builder

	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n")
	fmt.Fprintf(&b, "<script id=%q>\n%s\n</script>\n", InterceptorScriptID, fmt.Sprintf(spyScript, jsLiteral(cfg.AllowList)))
	if tagID != "" {
		loader := fmt.Sprintf(tagLoaderScript, jsLiteral(cfg.TagScriptBase), jsLiteral(tagID))
		fmt.Fprintf(&b, "<script id=%q>\n%s\n</script>\n", TagLoaderScriptID, loader)
	}
	fmt.Fprintf(&b, "<style>\n%s\n</style>\n", escapeRawText(content.CSS, "style"))
	b.WriteString("</head>\n<body>\n")
	if tagID != "" {
		src := cfg.TagFrameBase + "?id=" + url.QueryEscape(tagID)
		fmt.Fprintf(&b, `<noscript id=%q><iframe src="%s" height="0" width="0" style="display:none;visibility:hidden"></iframe></noscript>`+"\n",
			TagNoscriptID, html.EscapeString(src))
	}
	b.WriteString(content.HTML)
	b.WriteString("\n")
	fmt.Fprintf(&b, "<script id=%q>\n%s\n</script>\n", LearnerScriptID, fmt.Sprintf(learnerWrapper, escapeRawText(content.JS, "script")))
	b.WriteString("</body>\n</html>\n")
	return b.String()
}

// jsLiteral encodes v as a JSON literal, which is also valid script source.
// HTML-significant characters are escaped so the literal cannot close the
// surrounding element.
func jsLiteral(v any) string {
	s, err := sonic.ConfigStd.MarshalToString(v)
	if err != nil {
		return "null"
	}
	return s
}

// escapeRawText keeps learner text from terminating its raw-text element.
func escapeRawText(text, tag string) string {
	closer := "</" + tag
	if !strings.Contains(strings.ToLower(text), closer) {
		return text
	}
	var b strings.Builder
	lower := strings.ToLower(text)
	for {
		i := strings.Index(lower, closer)
		if i < 0 {
			b.WriteString(text)
			return b.String()
		}
		b.WriteString(text[:i])
		b.WriteString(`<\/`)
		text = text[i+2:]
		lower = lower[i+2:]
	}
}
