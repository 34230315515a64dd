/*
Package sandbox runs learner pages inside isolated frames.

# Overview

A Frame is the stand-in for a sandboxed iframe. It owns:

  - a goja runtime with its own global scope
  - the parsed document (x/net/html, queried through goquery)
  - an event loop goroutine that runs every script callback in order
  - an intercept.Registry whose sink relays captures as bridge messages
  - a bridge.Port, the only way anything leaves the frame

# Document

BuildDocument assembles the page in a fixed order:

 1. the egress interceptor script, first child of head
 2. the tag manager loader, when a tag id is configured
 3. learner CSS
 4. the tag manager noscript fallback
 5. learner HTML
 6. learner JS, wrapped so thrown errors are logged and relayed

When the frame reaches the interceptor script it installs the interceptor
over its network primitives, so every later script sees patched fetch,
XMLHttpRequest, sendBeacon and Image.src.

# Tag manager

The container script itself is opaque. Once it loads, the frame emulates a
container: each data layer push with an event other than the loader's own
gtm.* events is sent as a hit to the collect endpoint through the patched
sendBeacon, so it is captured like any other tracking call.

# Lifecycle

A Renderer keeps exactly one live frame. Rendering different inputs closes
the old frame, and its port, before the new one starts. Results that arrive
for a closed frame are dropped.
*/
package sandbox
