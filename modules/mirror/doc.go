// Package mirror relays messages posted in source channels into their
// configured target channels through per-author proxy endpoints, and keeps
// the mirrored copies in sync when the source message is edited or deleted.
//
// All shared state lives in caches owned by a Module value. Each cache has its
// own mutex and no mutex is ever held across a platform call.
package mirror
