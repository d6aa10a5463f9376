// Package broadcast implements the connection registry and per-connection writers.
//
// The Registry indexes live connections by identity, topic and symbol and fans
// out serialized messages to a delivery scope. Subscriptions belong to an
// identity, so every connection of that identity receives what any one of them
// subscribed to. Writers own the socket's write side and evict clients whose
// bounded queue overflows.
package broadcast
