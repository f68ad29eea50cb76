// Package protocol defines the messages exchanged between a controller and
// the daemon over a tube.
//
// Every message is a single JSON object on its own line of the text channel.
//
// Requests (controller -> daemon):
//
//	{"path":"/bin/cat","argv":["cat"],"env":{"HOME":"/"},"redirs":[[0,-2],[2,-1],[1,1]]}
//	{} or {"exit":{}}
//
// A redir is [target, source]. Source -1 closes target in the child, -2
// takes the next descriptor from the descriptor channel and any other
// non-negative number is a descriptor the child already has. Descriptors for
// -2 sources are sent after the line, one per message, in redir order.
//
// Responses (daemon -> controller):
//
//	{"pid":42}
//	{"pid":42,"exited":true,"exitStatus":0,"signaled":false,"coreDump":false,"stopped":false,"continued":false}
//	{"err":"schema: argv[1]: not a string"}
//
// exitStatus, termSig and stopSig are present only when exited, signaled and
// stopped are true respectively.
package protocol
