package worker

// Paths inside the training container. The workspace holds the extracted
// archive; the training script writes its results under the output mount.
const (
	workspaceMountPath = "/workspace"
	outputMountPath    = "/output"
)

// trainingScript locates the project inside the workspace and runs it.
// Users zip their projects with or without an enclosing folder, so
// requirements.txt and train.py are found by recursive search, shallowest
// match first, and the script runs from the directory containing train.py.
const trainingScript = `cd /workspace
req=$(find . -type f -name requirements.txt | awk -F/ '{print NF" "$0}' | sort -n | head -n 1 | cut -d' ' -f2-)
train=$(find . -type f -name train.py | awk -F/ '{print NF" "$0}' | sort -n | head -n 1 | cut -d' ' -f2-)
if [ -z "$train" ]; then
  echo "train.py not found in uploaded archive" >&2
  exit 1
fi
if [ -z "$req" ]; then
  echo "requirements.txt not found in uploaded archive" >&2
  exit 1
fi
pip install -r "$req" || exit 1
cd "$(dirname "$train")"
exec python train.py`

// trainingCommand is the full container command for a training job.
func trainingCommand() []string {
	return []string{"bash", "-c", trainingScript}
}

// containerName derives a human-readable container name from the job id.
func containerName(jobID string) string {
	return "trainqueue-job-" + jobID
}
