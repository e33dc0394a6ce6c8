// Package reactor wraps the platform readiness primitive behind a
// small add/remove/wait surface. Events are level-triggered and carry
// at most two flags: In (readable) and Disconnect (peer closed).
package reactor
