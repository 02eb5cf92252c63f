// Package env resolves {{...}} placeholders in suite files.
//
// A placeholder is one of:
//   - {{name}}: a suite variable or a value captured from an earlier request
//   - {{$NAME}}: an environment variable
//   - {{fn(args)}}: a builtin such as uuid(), timestamp() or base64("x")
//
// .env files are loaded with godotenv.
package env
