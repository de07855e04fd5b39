// Package models holds the note and user records exchanged with the server,
// together with the partial (patch) forms carried by update events.
package models
