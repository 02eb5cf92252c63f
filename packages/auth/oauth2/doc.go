// Package oauth2 obtains OAuth2 access tokens (client credentials, password
// and refresh grants) through the nativehttp client and caches them until
// they expire.
package oauth2
