// Package auth implements the authentication gate that unlocks protected
// release channels.
//
// One attempt walks a fixed sequence of stages:
//
//	Received -> CredentialsResolved -> KeyDecoded -> RemoteVerified -> TokenValidated -> Committed
//
// and may fail at any transition. Only a failure to resolve credentials is
// the caller's fault; every other failure is reported as an internal error.
// No lock is held while the remote endpoint is called: credentials are read
// first, the token is fetched and verified, and only then is the result
// committed through the CredentialStore.
package auth
