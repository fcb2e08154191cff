// Package schema reads a database schema file from a branch or tag of a remote
// git repository reached over SSH.
//
// Each Fetch works in a disposable clone:
//
//	cfg, err := schema.NewRepositoryAccessConfig(
//		"git@git.example.com:platform/schema.git",
//		sshauth.BuildIdentity(pub, priv, "ci", nil),
//		"db/schema.sql",
//	)
//	if err != nil {
//		return err
//	}
//	content, err := schema.NewRetriever().Fetch(ctx, cfg, schema.Tag("v2.0"))
//
// Failures are reported as *TransportError, *RefNotFoundError,
// *PathNotFoundError or *DecodeError.
package schema
