// Command followeraudit audits the followers of an account and flags the ones
// that look like bots or inactive profiles.
//
// Run "followeraudit audit <handle>" to start or resume an audit in the
// foreground, or "followeraudit serve" to drive sessions over HTTP.
package main
