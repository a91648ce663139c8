// Package mcp serves read-only views of a loopd project over the Model
// Context Protocol.
//
// A generator running inside the loop can be pointed at `loopd mcp` to look
// up the manifest, the trajectory of the item it is working on, the
// recovery frame for it and lessons recorded by earlier iterations. No tool
// writes, so the server is safe to run next to `loopd run`.
package mcp
