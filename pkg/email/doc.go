// Package email implements passwordless email login: a Redis-backed store of
// short-lived six digit verification codes and a Listmonk client that
// delivers them through a transactional template.
//
// A code is issued with CodeStore.Issue, mailed with Sender.SendCode and
// redeemed exactly once with CodeStore.Consume.
package email
