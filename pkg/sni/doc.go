// Package sni lets an external authority pick the server certificate for
// each TLS handshake by server name.
//
// A listener holds the Resolver half and installs Resolver.GetCertificate as
// its tls.Config hook. The authority holds the Lookup half:
//
//	resolver, lookup := sni.New()
//	go func() {
//	    for {
//	        host, err := lookup.Poll(ctx)
//	        if err != nil {
//	            return
//	        }
//	        pair, err := store.Lookup(host)
//	        if err != nil {
//	            lookup.ResolveError(host, err.Error())
//	            continue
//	        }
//	        lookup.Resolve(host, pair)
//	    }
//	}()
//
// # Lookup Protocol
//
// An entry exists only after a handshake asks for a hostname. Concurrent
// handshakes for the same hostname share one entry, so Poll yields each
// pending hostname once. Each entry is fulfilled exactly once, by Resolve
// or ResolveError. Answering a hostname that is not pending fails with
// ErrNotPending.
//
// A successful answer is cached for the lifetime of the Resolver and later
// handshakes for that hostname are served without a new lookup. An error
// answer fails the handshakes waiting on that hostname only and is not
// cached, so the next handshake asks again.
package sni
