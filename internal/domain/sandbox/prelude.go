package sandbox

// prelude installs the browser surface of a frame on top of host natives.
// It is evaluated once per frame and returns the hooks the host keeps.
const prelude = `(function (g, host) {
  'use strict';

  function Headers(init) {
    this._h = {};
    if (init) for (var k in init) this._h[String(k).toLowerCase()] = String(init[k]);
  }
  Headers.prototype.get = function (k) {
    var v = this._h[String(k).toLowerCase()];
    return v === undefined ? null : v;
  };
  Headers.prototype.has = function (k) { return this.get(k) !== null; };

  function Response(status, text, headers) {
    this.status = status;
    this.ok = status >= 200 && status < 300;
    this.headers = new Headers(headers);
    this._text = text;
  }
  Response.prototype.text = function () { return Promise.resolve(this._text); };
  Response.prototype.json = function () {
    var t = this._text;
    return new Promise(function (resolve) { resolve(JSON.parse(t)); });
  };

  g.Headers = Headers;
  g.Response = Response;

  g.fetch = function (input, init) {
    init = init || {};
    var url = typeof input === 'string' ? input : (input && input.url) || String(input);
    return new Promise(function (resolve, reject) {
      host.request(init.method, url, init.body, init.headers || null, function (err, status, text, headers) {
        if (err) {
          reject(new TypeError('Failed to fetch: ' + err));
          return;
        }
        resolve(new Response(status, text, headers));
      });
    });
  };

  function XMLHttpRequest() {
    this.readyState = 0;
    this.status = 0;
    this.responseText = '';
    this.response = '';
    this._listeners = {};
    this._req = null;
  }
  XMLHttpRequest.prototype.open = function (method, url) {
    this._req = host.xhrOpen(method === undefined ? 'GET' : String(method), String(url));
    this.readyState = 1;
  };
  XMLHttpRequest.prototype.setRequestHeader = function (k, v) {
    if (this._req) host.xhrHeader(this._req, String(k), String(v));
  };
  XMLHttpRequest.prototype.addEventListener = function (type, fn) {
    (this._listeners[type] = this._listeners[type] || []).push(fn);
  };
  XMLHttpRequest.prototype._emit = function (type) {
    var ev = { type: type, target: this };
    if (typeof this['on' + type] === 'function') this['on' + type].call(this, ev);
    var ls = this._listeners[type] || [];
    for (var i = 0; i < ls.length; i++) ls[i].call(this, ev);
  };
  XMLHttpRequest.prototype.send = function (body) {
    if (!this._req) throw new Error('InvalidStateError: open() was not called');
    var xhr = this;
    host.xhrSend(this._req, body === undefined ? null : body, function (err, status, text) {
      xhr.readyState = 4;
      if (err) {
        xhr._emit('error');
        xhr._emit('loadend');
        return;
      }
      xhr.status = status;
      xhr.responseText = text;
      xhr.response = text;
      xhr._emit('readystatechange');
      xhr._emit('load');
      xhr._emit('loadend');
    });
  };
  g.XMLHttpRequest = XMLHttpRequest;

  g.Image = function (width, height) {
    var img = g.document.createElement('img');
    if (width !== undefined) img.width = width;
    if (height !== undefined) img.height = height;
    return img;
  };

  g.navigator = {
    userAgent: 'Mozilla/5.0 (TrackLab Sandbox)',
    language: 'en-US',
    sendBeacon: function (url, data) {
      return host.beacon(String(url), data === undefined ? null : data);
    }
  };

  g.window = g;
  g.self = g;
  g.parent = {
    postMessage: function (message) { host.post(message); }
  };
  g.top = g.parent;
  g.location = { href: 'about:srcdoc', protocol: 'about:', host: '', hostname: '', pathname: 'srcdoc', search: '', hash: '' };
  g.performance = { now: function () { return Date.now(); } };
  g.queueMicrotask = function (fn) { Promise.resolve().then(fn); };

  return {
    activateTag: function (name) {
      var layer = g[name] = g[name] || [];
      if (layer.__tracked) return;
      var push = layer.push;
      layer.push = function () {
        var n = push.apply(layer, arguments);
        for (var i = 0; i < arguments.length; i++) host.tagEvent(arguments[i]);
        return n;
      };
      Object.defineProperty(layer, '__tracked', { value: true });
      for (var i = 0; i < layer.length; i++) host.tagEvent(layer[i]);
    }
  };
})`
