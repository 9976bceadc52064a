package client

// Version is the client version reported to the control plane in the
// X-Client-Version header. Overridden at build time via -ldflags.
var Version = "dev"
