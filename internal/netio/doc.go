// Package netio provides the host-interface datapath's OS-facing
// transports: the agent control-plane datagram socket (§6 "Agent
// socket: packet_socket_init/close, attach_vif, wakeup(vif)") and
// interface state change detection for internal/linkstate.
//
// Linux-specific implementation uses golang.org/x/sys/unix for the
// agent's Unix domain datagram socket.
package netio
