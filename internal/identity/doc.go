// Package identity normalizes raw channel events into the canonical session
// identity tuple (company, user, channel, channel user id, assistant) and
// resolves which assistant the conversation binds to. Web events default the
// channel user id to the authenticated user id; other channels carry their
// adapter-provided external id through unchanged.
package identity
