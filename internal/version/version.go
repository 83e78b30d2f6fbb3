package version

// Version is the running client version. Plugins declare the minimum client
// version they need and are gated against this value at load time.
const Version = "1.3.0"
