package client

// Version is sent in the default User-Agent header.
const Version = "0.1.0"
